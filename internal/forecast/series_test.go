package forecast

import (
	"database/sql"
	"testing"
	"time"

	"github.com/lox/aurorawatch/internal/models"
)

func TestShortTermSeries(t *testing.T) {
	e := newTestEngine(t, defaultConfig())

	s, err := e.ShortTermSeries(models.SourceData{}, DefaultSeriesMinutes, DefaultSeriesStep)
	if err != nil {
		t.Fatalf("ShortTermSeries: %v", err)
	}

	if len(s.Points) != 7 {
		t.Fatalf("got %d points, want 7", len(s.Points))
	}
	for i, p := range s.Points {
		want := fixtureNow.Add(time.Duration(i*DefaultSeriesStep) * time.Minute)
		if !p.Time.Equal(want) {
			t.Errorf("point %d time = %v, want %v", i, p.Time, want)
		}
		if p.Probability != s.Points[0].Probability {
			t.Errorf("point %d probability = %d, want constant %d", i, p.Probability, s.Points[0].Probability)
		}
		if p.Probability < 0 || p.Probability > 100 {
			t.Errorf("point %d probability %d out of range", i, p.Probability)
		}
	}
	if s.Kp != models.DefaultKpThreshold {
		t.Errorf("Kp = %v, want threshold %v", s.Kp, models.DefaultKpThreshold)
	}
}

func TestShortTermSeries_ThirdPartyKp(t *testing.T) {
	e := newTestEngine(t, defaultConfig())
	data := models.SourceData{
		ThirdParty: &models.ThirdPartyForecast{
			Kp:          sql.NullFloat64{Float64: 3, Valid: true},
			Probability: sql.NullInt64{Int64: 40, Valid: true},
		},
		Snapshot: &models.Snapshot{CloudCover: sql.NullFloat64{Float64: 72.4, Valid: true}},
		Clouds: []models.CloudSample{
			{Time: fixtureNow.Truncate(time.Hour).Add(-time.Hour), Cover: 80},
		},
	}

	s, err := e.ShortTermSeries(data, 0, 5)
	if err != nil {
		t.Fatalf("ShortTermSeries: %v", err)
	}
	if len(s.Points) != 1 {
		t.Fatalf("got %d points, want 1", len(s.Points))
	}
	if s.Kp != 3 {
		t.Errorf("Kp = %v, want third-party 3", s.Kp)
	}
	if !s.CloudNow.Valid || s.CloudNow.Float64 != 80 {
		t.Errorf("CloudNow = %+v, want previous hour 80", s.CloudNow)
	}
	if !s.CloudTonight.Valid || s.CloudTonight.Float64 != 72 {
		t.Errorf("CloudTonight = %+v, want 72", s.CloudTonight)
	}
	if s.ThirdParty.Int64 != 40 {
		t.Errorf("ThirdParty = %+v", s.ThirdParty)
	}
}

func TestShortTermSeries_FallbackKpFloor(t *testing.T) {
	cfg := defaultConfig()
	cfg.KpThreshold = 3
	e := newTestEngine(t, cfg)

	s, err := e.ShortTermSeries(models.SourceData{}, 10, 5)
	if err != nil {
		t.Fatalf("ShortTermSeries: %v", err)
	}
	if s.Kp != seriesFallbackKp {
		t.Errorf("Kp = %v, want %v", s.Kp, seriesFallbackKp)
	}
}

func TestShortTermSeries_InvalidArgs(t *testing.T) {
	e := newTestEngine(t, defaultConfig())

	tests := []struct {
		name    string
		minutes int
		step    int
	}{
		{"zero step", 30, 0},
		{"negative step", 30, -5},
		{"negative horizon", -1, 5},
		{"horizon too long", MaxSeriesMinutes + 1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.ShortTermSeries(models.SourceData{}, tt.minutes, tt.step); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCloudAtHour(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 30, 0, 0, time.UTC)
	samples := []models.CloudSample{
		{Time: time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC), Cover: 10},
		{Time: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), Cover: 55.5},
	}

	got := cloudAtHour(samples, now)
	if !got.Valid || got.Float64 != 56 {
		t.Errorf("cloudAtHour = %+v, want 56", got)
	}

	if got := cloudAtHour(nil, now); got.Valid {
		t.Errorf("cloudAtHour(nil) = %+v", got)
	}
}
