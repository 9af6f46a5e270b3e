package jsonfind

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		keys   []string
		want   float64
		wantOK bool
	}{
		{
			name:   "top level",
			doc:    `{"kp": 5.33}`,
			keys:   []string{"kp"},
			want:   5.33,
			wantOK: true,
		},
		{
			name:   "case insensitive key",
			doc:    `{"data": {"CurrentKP": 4}}`,
			keys:   []string{"currentkp", "kp"},
			want:   4,
			wantOK: true,
		},
		{
			name:   "first match in document order wins",
			doc:    `{"a": {"chance": 12}, "probability": 80}`,
			keys:   []string{"probability", "chance"},
			want:   12,
			wantOK: true,
		},
		{
			name:   "inside arrays",
			doc:    `{"items": [{"x": 1}, {"cloud": 42}]}`,
			keys:   []string{"cloud"},
			want:   42,
			wantOK: true,
		},
		{
			name:   "string value skipped",
			doc:    `{"kp": "high", "nested": {"kp": 6}}`,
			keys:   []string{"kp"},
			want:   6,
			wantOK: true,
		},
		{
			name:   "children of non-numeric match searched",
			doc:    `{"kp": {"kp_index": 3.67}}`,
			keys:   []string{"kp", "kp_index"},
			want:   3.67,
			wantOK: true,
		},
		{
			name:   "absent",
			doc:    `{"foo": 1}`,
			keys:   []string{"kp"},
			wantOK: false,
		},
		{
			name:   "scalar root",
			doc:    `7`,
			keys:   []string{"kp"},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Number(gjson.Parse(tt.doc), tt.keys...)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Number() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	doc := gjson.Parse(`{"conditions": {"skyDarkness": "", "inner": {"SKYDARKNESS": "twilight"}}}`)
	got, ok := String(doc, "skydarkness")
	if !ok {
		t.Fatal("expected a match")
	}
	if got != "twilight" {
		t.Errorf("String() = %q, want twilight", got)
	}
}

func TestWalkStops(t *testing.T) {
	doc := gjson.Parse(`{"a": 1, "b": {"c": 2}, "d": 3}`)
	var seen []string
	Walk(doc, func(key string, _ gjson.Result) bool {
		seen = append(seen, key)
		return key != "c"
	})
	want := []string{"a", "b", "c"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}
