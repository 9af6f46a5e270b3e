package forecast

import (
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/lox/aurorawatch/internal/models"
)

const (
	DefaultSeriesMinutes = 30
	DefaultSeriesStep    = 5
	MaxSeriesMinutes     = 24 * 60

	// seriesFallbackKp is used when the third-party forecast has no Kp.
	seriesFallbackKp = 5.0
)

// SeriesPoint is one scored instant of a short-term series.
type SeriesPoint struct {
	Time        time.Time `json:"time"`
	Probability int       `json:"probability"`
}

// Series is a short-term visibility projection together with the inputs
// it was scored from.
type Series struct {
	Points        []SeriesPoint
	Kp            float64
	ThirdPartyKp  sql.NullFloat64
	ThirdParty    sql.NullInt64
	Ovation       sql.NullInt64
	CloudNow      sql.NullFloat64
	CloudTonight  sql.NullFloat64
	GFZLatest     *models.KpRecord
	SWPCKp        sql.NullFloat64
	HemiPowerGW   sql.NullFloat64
	PlanetaryLine string
	GFZSourceNote string
}

// ShortTermSeries scores the same inputs at step-minute intervals from
// now through now+minutes inclusive. Inputs are taken once from data and
// held constant across points; only the timestamp advances.
func (e *Engine) ShortTermSeries(data models.SourceData, minutes, step int) (*Series, error) {
	if step <= 0 {
		return nil, errors.New("series step must be positive")
	}
	if minutes < 0 || minutes > MaxSeriesMinutes {
		return nil, errors.New("series horizon out of range")
	}

	now := e.clock.Now().UTC()
	sc := e.scoreContext(data)

	s := &Series{
		Ovation:       data.Ovation,
		ThirdParty:    sc.thirdParty,
		SWPCKp:        sc.swpcKp,
		HemiPowerGW:   sc.hemiPower,
		GFZLatest:     data.GFZ.Latest(),
		PlanetaryLine: planetaryLine(data.Planetary, e.loc),
		GFZSourceNote: gfzSourceNote(data.GFZ),
		CloudNow:      cloudAtHour(primaryClouds(data), now),
	}
	if data.ThirdParty != nil {
		s.ThirdPartyKp = data.ThirdParty.Kp
	}
	if data.Snapshot != nil && data.Snapshot.CloudCover.Valid {
		s.CloudTonight = sql.NullFloat64{Float64: math.RoundToEven(data.Snapshot.CloudCover.Float64), Valid: true}
	}

	s.Kp = math.Max(e.cfg.KpThreshold, seriesFallbackKp)
	if s.ThirdPartyKp.Valid {
		s.Kp = s.ThirdPartyKp.Float64
	}

	in := sc.inputs(s.Kp, s.CloudNow)
	for delta := 0; delta <= minutes; delta += step {
		s.Points = append(s.Points, SeriesPoint{
			Time:        now.Add(time.Duration(delta) * time.Minute),
			Probability: VisibilityPercent(in),
		})
	}
	return s, nil
}

// cloudAtHour returns the sample for the hour containing now, falling
// back to the previous hour.
func cloudAtHour(samples []models.CloudSample, now time.Time) sql.NullFloat64 {
	hour := now.Truncate(time.Hour)
	prev := hour.Add(-time.Hour)
	var fallback sql.NullFloat64
	for _, s := range samples {
		switch {
		case s.Time.Equal(hour):
			return sql.NullFloat64{Float64: math.RoundToEven(s.Cover), Valid: true}
		case s.Time.Equal(prev):
			fallback = sql.NullFloat64{Float64: math.RoundToEven(s.Cover), Valid: true}
		}
	}
	return fallback
}
