// Package jsonfind searches arbitrarily nested JSON documents for the
// first value stored under any of a set of keys.
package jsonfind

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Visitor is called for every object member in depth-first document
// order. Returning false stops the walk.
type Visitor func(key string, value gjson.Result) bool

// Walk visits every object member below root. Array elements are
// descended into but not visited themselves since they have no key.
func Walk(root gjson.Result, visit Visitor) {
	walk(root, visit)
}

func walk(v gjson.Result, visit Visitor) bool {
	if !v.IsObject() && !v.IsArray() {
		return true
	}
	keep := true
	isObject := v.IsObject()
	v.ForEach(func(key, value gjson.Result) bool {
		if isObject && !visit(key.String(), value) {
			keep = false
			return false
		}
		if !walk(value, visit) {
			keep = false
			return false
		}
		return true
	})
	return keep
}

func keySet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[strings.ToLower(k)] = true
	}
	return set
}

// Number returns the first numeric value whose key matches one of keys,
// compared case-insensitively. Non-numeric matches are skipped and their
// children still searched.
func Number(root gjson.Result, keys ...string) (float64, bool) {
	set := keySet(keys)
	var (
		found bool
		out   float64
	)
	Walk(root, func(key string, value gjson.Result) bool {
		if set[strings.ToLower(key)] && value.Type == gjson.Number {
			out, found = value.Float(), true
			return false
		}
		return true
	})
	return out, found
}

// String is Number for non-empty string values.
func String(root gjson.Result, keys ...string) (string, bool) {
	set := keySet(keys)
	var (
		found bool
		out   string
	)
	Walk(root, func(key string, value gjson.Result) bool {
		if set[strings.ToLower(key)] && value.Type == gjson.String && value.Str != "" {
			out, found = value.Str, true
			return false
		}
		return true
	})
	return out, found
}
