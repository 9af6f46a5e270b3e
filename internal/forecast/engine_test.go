package forecast

import (
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/aurorawatch/internal/models"
)

func defaultConfig() models.EngineConfig {
	return models.EngineConfig{
		KpThreshold:  models.DefaultKpThreshold,
		Latitude:     models.DefaultLatitude,
		Longitude:    models.DefaultLongitude,
		LocationName: models.DefaultLocationName,
		TimezoneName: models.DefaultTimezone,
	}
}

func newTestEngine(t *testing.T, cfg models.EngineConfig) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, clockwork.NewFakeClockAt(fixtureNow))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestNewEngine_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.EngineConfig)
	}{
		{"latitude", func(c *models.EngineConfig) { c.Latitude = 91 }},
		{"longitude", func(c *models.EngineConfig) { c.Longitude = -181 }},
		{"threshold", func(c *models.EngineConfig) { c.KpThreshold = 9.5 }},
		{"timezone", func(c *models.EngineConfig) { c.TimezoneName = "Nowhere/Special" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			if _, err := NewEngine(cfg, nil); err == nil {
				t.Error("expected error")
			}
		})
	}

	cfg := defaultConfig()
	cfg.TimezoneName = ""
	e, err := NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine with empty timezone: %v", err)
	}
	if e.Location() != time.UTC {
		t.Errorf("Location() = %v, want UTC", e.Location())
	}
}

func TestBuild_DefaultThreshold(t *testing.T) {
	e := newTestEngine(t, defaultConfig())

	build, err := e.Build(models.SourceData{ForecastText: loadFixture(t)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(build.Detections) != 1 {
		t.Fatalf("got %d detections, want 1", len(build.Detections))
	}
	d := build.Detections[0]
	if d.DayLabel != "Jan 02" || d.UTBlock != "06-09" || d.Kp != 7.33 {
		t.Errorf("detection = %s %s %v", d.DayLabel, d.UTBlock, d.Kp)
	}
	if !d.Start.Equal(time.Date(2025, 1, 2, 6, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %v", d.Start)
	}
	if d.LocalDateLabel != "Wed Jan 1" {
		t.Errorf("LocalDateLabel = %q, want Wed Jan 1", d.LocalDateLabel)
	}

	if build.WindowID != "2025-01-01_to_2025-01-03_kp>=6.5" {
		t.Errorf("WindowID = %q", build.WindowID)
	}
	if build.Signature != "" {
		t.Errorf("Signature = %q, want empty without real-time sources", build.Signature)
	}
	if build.CombinedID != build.WindowID+"|" {
		t.Errorf("CombinedID = %q", build.CombinedID)
	}
	if build.CloudAvailable {
		t.Error("CloudAvailable without cloud samples")
	}
	if build.CloudLine != "Cloud data: unavailable for Portland, OR" {
		t.Errorf("CloudLine = %q", build.CloudLine)
	}
	if len(build.ForecastLines) != 9 {
		t.Errorf("got %d forecast lines, want 9", len(build.ForecastLines))
	}
	if !strings.Contains(build.ForecastLines[3], "**7.33**") {
		t.Errorf("forecast line %q should emphasise 7.33", build.ForecastLines[3])
	}
	if len(build.Groups) != 1 || build.Groups[0].Label != "Wed Jan 1" {
		t.Errorf("Groups = %+v", build.Groups)
	}
	if !build.ComputedAt.Equal(fixtureNow) {
		t.Errorf("ComputedAt = %v", build.ComputedAt)
	}
}

func TestBuild_Ordering(t *testing.T) {
	cfg := defaultConfig()
	cfg.KpThreshold = 3.0
	e := newTestEngine(t, cfg)

	build, err := e.Build(models.SourceData{ForecastText: loadFixture(t)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(build.Detections) != 9 {
		t.Fatalf("got %d detections, want 9", len(build.Detections))
	}
	for i := 1; i < len(build.Detections); i++ {
		prev, cur := build.Detections[i-1], build.Detections[i]
		if cur.Day.Before(prev.Day) || (cur.Day.Equal(prev.Day) && cur.StartHour < prev.StartHour) {
			t.Errorf("detection %d (%s %s) out of order after %s %s", i, cur.DayLabel, cur.UTBlock, prev.DayLabel, prev.UTBlock)
		}
	}
	first := build.Detections[0]
	if first.DayLabel != "Jan 01" || first.UTBlock != "21-00" {
		t.Errorf("first detection = %s %s, want Jan 01 21-00", first.DayLabel, first.UTBlock)
	}
	if !first.End.Equal(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("21-00 block ends %v, want next midnight", first.End)
	}
	if build.WindowID != "2025-01-01_to_2025-01-03_kp>=3.0" {
		t.Errorf("WindowID = %q", build.WindowID)
	}
}

func TestBuild_SignatureFromRealtimeOnly(t *testing.T) {
	e := newTestEngine(t, defaultConfig())
	gfzAt := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	swpcAt := time.Date(2025, 1, 1, 10, 17, 0, 0, time.UTC)

	data := models.SourceData{
		ForecastText: loadFixture(t),
		GFZ: &models.GFZSeries{Records: []models.KpRecord{
			{Source: models.SourceGFZ, ObservedAt: gfzAt.Add(-3 * time.Hour), Kp: 4.333, Status: "def"},
			{Source: models.SourceGFZ, ObservedAt: gfzAt, Kp: 7, Status: "now"},
		}},
		Planetary: &models.PlanetaryK{
			ObservedAt: swpcAt,
			KpIndex:    sql.NullFloat64{Float64: 7.33, Valid: true},
			HighBlocks: []models.HighBlock{
				{Time: swpcAt.Add(-20 * time.Minute), Kp: 6.67, Kind: "estimated"},
				{Time: swpcAt, Kp: 7.33, Kind: "observed"},
			},
		},
	}

	build, err := e.Build(data)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	swpcBlock := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	want := JoinSignature([]string{
		SignatureToken{Source: TokenGFZ, Time: gfzAt, Kp: 7}.String(),
		SignatureToken{Source: TokenSWPC, Time: swpcBlock, Kp: 7.33}.String(),
	})
	if build.Signature != want {
		t.Errorf("Signature = %q, want %q", build.Signature, want)
	}
	if strings.Contains(build.Signature, "1735797600") {
		t.Error("forecast detection leaked into signature")
	}
	if build.CombinedID != CombinedID(build.WindowID, want) {
		t.Errorf("CombinedID = %q", build.CombinedID)
	}
	if !strings.HasPrefix(build.SourcesLine, "Sources: GFZ 7.00 • NOAA 7.33") {
		t.Errorf("SourcesLine = %q", build.SourcesLine)
	}
}

func TestBuild_ThresholdChangesWindowID(t *testing.T) {
	a := newTestEngine(t, defaultConfig())
	cfg := defaultConfig()
	cfg.KpThreshold = 7
	b := newTestEngine(t, cfg)

	data := models.SourceData{ForecastText: loadFixture(t)}
	ba, err := a.Build(data)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	bb, err := b.Build(data)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ba.WindowID == bb.WindowID {
		t.Errorf("window ids should differ: %q", ba.WindowID)
	}
}

func TestBuild_Idempotent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(fixtureNow)
	e, err := NewEngine(defaultConfig(), clock)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	data := models.SourceData{
		ForecastText: loadFixture(t),
		Ovation:      sql.NullInt64{Int64: 12, Valid: true},
		Clouds: []models.CloudSample{
			{Time: time.Date(2025, 1, 2, 6, 0, 0, 0, time.UTC), Cover: 40},
			{Time: time.Date(2025, 1, 2, 7, 0, 0, 0, time.UTC), Cover: 60},
		},
	}

	first, err := e.Build(data)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	clock.Advance(time.Minute)
	second, err := e.Build(data)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if second.ComputedAt.Equal(first.ComputedAt) {
		t.Error("ComputedAt should follow the clock")
	}
	second.ComputedAt = first.ComputedAt
	if !reflect.DeepEqual(first, second) {
		t.Error("builds from identical inputs differ")
	}
	if first.Detections[0].CloudDisplay() != "50%" {
		t.Errorf("CloudDisplay() = %q, want 50%%", first.Detections[0].CloudDisplay())
	}
}

func TestBuild_NoForecastData(t *testing.T) {
	e := newTestEngine(t, defaultConfig())

	_, err := e.Build(models.SourceData{ForecastText: "no table here"})
	if !errors.Is(err, ErrNoForecastData) {
		t.Errorf("err = %v, want ErrNoForecastData", err)
	}
}

func TestBuild_SecondaryCloudsFallback(t *testing.T) {
	e := newTestEngine(t, defaultConfig())

	data := models.SourceData{
		ForecastText: loadFixture(t),
		SecondaryClouds: []models.CloudSample{
			{Time: time.Date(2025, 1, 2, 6, 0, 0, 0, time.UTC), Cover: 20},
		},
	}
	build, err := e.Build(data)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !build.CloudAvailable {
		t.Error("secondary clouds should count as available")
	}
	if got := build.Detections[0].CloudDisplay(); got != "20%" {
		t.Errorf("CloudDisplay() = %q, want 20%%", got)
	}
}

func TestBuild_AgedOutPeakIsNotAdded(t *testing.T) {
	block := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(block.Add(3 * time.Hour))
	e, err := NewEngine(defaultConfig(), clock)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	data := models.SourceData{
		ForecastText: loadFixture(t),
		Planetary: &models.PlanetaryK{
			ObservedAt: block.Add(2 * time.Hour),
			KpIndex:    sql.NullFloat64{Float64: 7, Valid: true},
			HighBlocks: []models.HighBlock{
				{Time: block.Add(10 * time.Minute), Kp: 7.67, Kind: "observed"},
				{Time: block.Add(2 * time.Hour), Kp: 7, Kind: "observed"},
			},
		},
	}

	first, err := e.Build(data)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if first.Signature != "SWPC:1735689600:7.67" {
		t.Fatalf("first signature = %q", first.Signature)
	}

	clock.Advance(9*time.Hour + 30*time.Minute)
	later, err := e.Build(data)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if later.Signature != "SWPC:1735689600:7.0" {
		t.Fatalf("later signature = %q", later.Signature)
	}
	if added := AddedTokens(first.Signature, later.Signature); len(added) != 0 {
		t.Errorf("AddedTokens = %v, want none for a falling block maximum", added)
	}
}
