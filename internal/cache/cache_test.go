package cache

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestCache(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	c := New(t.TempDir(), time.Hour, clock)

	if _, ok := c.Get("openweather:45.52,-122.68"); ok {
		t.Fatal("empty cache returned an entry")
	}

	if err := c.Set("openweather:45.52,-122.68", []byte(`[1,2]`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	data, ok := c.Get("openweather:45.52,-122.68")
	if !ok || string(data) != `[1,2]` {
		t.Fatalf("Get = %q, %v", data, ok)
	}

	clock.Advance(2 * time.Hour)
	if _, ok := c.Get("openweather:45.52,-122.68"); ok {
		t.Error("stale entry returned as fresh")
	}
	if data, ok := c.GetStale("openweather:45.52,-122.68"); !ok || string(data) != `[1,2]` {
		t.Errorf("GetStale = %q, %v", data, ok)
	}

	keys := c.Keys()
	if len(keys) != 1 || keys[0] != "openweather_45.52_-122.68" {
		t.Errorf("Keys = %v", keys)
	}
}
