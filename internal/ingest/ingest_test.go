package ingest

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/lox/aurorawatch/internal/models"
)

func TestValidateKpRecord(t *testing.T) {
	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		rec       models.KpRecord
		wantFlags []string
	}{
		{"valid gfz block", models.KpRecord{models.SourceGFZ, now.Add(-3 * time.Hour), 4.333, "def"}, nil},
		{"kp at upper bound", models.KpRecord{models.SourceGFZ, now, 9, "now"}, nil},
		{"kp negative", models.KpRecord{models.SourceGFZ, now, -1, "now"}, []string{FlagKpOutOfRange}},
		{"kp above nine", models.KpRecord{models.SourceSWPCPlanetary, now, 9.5, ""}, []string{FlagKpOutOfRange}},
		{"gfz off block", models.KpRecord{models.SourceGFZ, now.Add(-70 * time.Minute), 3, "now"}, []string{FlagKpNotOnBlock}},
		{"swpc minute reading", models.KpRecord{models.SourceSWPCPlanetary, now.Add(-70 * time.Minute), 3, ""}, nil},
		{"within future slack", models.KpRecord{models.SourceSWPCPlanetary, now.Add(2 * time.Minute), 3, ""}, nil},
		{"in future", models.KpRecord{models.SourceGFZ, now.Add(3 * time.Hour), 3, "now"}, []string{FlagKpInFuture}},
		{
			"multiple flags",
			models.KpRecord{models.SourceGFZ, now.Add(90 * time.Minute), 12, "now"},
			[]string{FlagKpOutOfRange, FlagKpNotOnBlock, FlagKpInFuture},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateKpRecord(tt.rec, now)
			if len(got) != len(tt.wantFlags) {
				t.Fatalf("ValidateKpRecord() = %v, want %v", got, tt.wantFlags)
			}
			sort.Strings(got)
			want := append([]string(nil), tt.wantFlags...)
			sort.Strings(want)
			for i := range got {
				if got[i] != want[i] {
					t.Errorf("flag[%d] = %q, want %q", i, got[i], want[i])
				}
			}
		})
	}
}

func TestCleanKpRecords(t *testing.T) {
	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	records := []models.KpRecord{
		{models.SourceGFZ, now.Add(-6 * time.Hour), 3, "def"},
		{models.SourceGFZ, now.Add(-3 * time.Hour), -1, "now"},
		{models.SourceGFZ, now, 5.667, "now"},
	}
	clean, rejected := CleanKpRecords(records, now)
	if rejected != 1 {
		t.Errorf("rejected = %d, want 1", rejected)
	}
	if len(clean) != 2 || clean[1].Kp != 5.667 {
		t.Errorf("clean = %+v", clean)
	}
}

func TestCleanCloudSamples(t *testing.T) {
	at := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	samples := []models.CloudSample{{at, 0}, {at.Add(time.Hour), 100}, {at.Add(2 * time.Hour), 101}, {at.Add(3 * time.Hour), -3}}

	clean, rejected := CleanCloudSamples(samples)
	if rejected != 2 {
		t.Errorf("rejected = %d, want 2", rejected)
	}
	if len(clean) != 2 {
		t.Errorf("len(clean) = %d, want 2", len(clean))
	}
}

func TestQualityFlagsToJSON(t *testing.T) {
	tests := []struct {
		name  string
		flags []string
		want  string
	}{
		{"nil flags", nil, ""},
		{"empty flags", []string{}, ""},
		{"single flag", []string{FlagKpOutOfRange}, `["kp_out_of_range"]`},
		{"multiple flags", []string{FlagKpOutOfRange, FlagKpInFuture}, `["kp_out_of_range","kp_in_future"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QualityFlagsToJSON(tt.flags)
			if got != tt.want {
				t.Errorf("QualityFlagsToJSON() = %q, want %q", got, tt.want)
			}
			if got != "" {
				var parsed []string
				if err := json.Unmarshal([]byte(got), &parsed); err != nil {
					t.Errorf("result is not valid JSON: %v", err)
				}
			}
		})
	}
}

func TestGFZHoursBack(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 3},
		{3, 3},
		{5, 3},
		{24, 24},
		{25, 24},
		{240, 240},
		{1000, 240},
	}
	for _, tt := range tests {
		if got := GFZHoursBack(tt.in); got != tt.want {
			t.Errorf("GFZHoursBack(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("truncateRunes short = %q", got)
	}
	got := truncateRunes("ääääää", 4)
	if got != "äää…" {
		t.Errorf("truncateRunes = %q, want äää…", got)
	}
}
