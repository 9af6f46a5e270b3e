package models

import (
	"database/sql"
	"strings"
	"time"
)

// Source names used for health reporting, metrics labels and ingest runs.
const (
	SourceNOAAForecast  = "noaa_forecast"
	SourceGFZ           = "gfz"
	SourceSWPCPlanetary = "swpc_planetary"
	SourceCloudCover    = "cloud_cover"
	SourceOvation       = "ovation"
	SourceMAF           = "maf"
	SourceSnapshot      = "afm_snapshot"
	SourceSWPCHemi      = "swpc_hemi"
)

// RequiredSources must all be healthy before the scheduler starts alerting.
var RequiredSources = []string{SourceNOAAForecast, SourceGFZ, SourceSWPCPlanetary}

var OptionalSources = []string{SourceCloudCover, SourceOvation, SourceMAF, SourceSnapshot, SourceSWPCHemi}

const (
	DefaultKpThreshold  = 6.5
	DefaultLatitude     = 45.5152
	DefaultLongitude    = -122.6784
	DefaultLocationName = "Portland, OR"
	DefaultTimezone     = "America/Los_Angeles"
)

// EngineConfig holds the per-invocation parameters of a build.
type EngineConfig struct {
	KpThreshold  float64
	Latitude     float64
	Longitude    float64
	LocationName string
	TimezoneName string // IANA name, e.g. "America/Los_Angeles"
}

// Location is a stored observer location along with its alert state.
type Location struct {
	ID             int64
	Name           string
	Latitude       float64
	Longitude      float64
	TimezoneName   string
	KpThreshold    float64
	Active         bool
	LastCombinedID sql.NullString
	LastAlertAt    sql.NullTime
	CreatedAt      time.Time
}

func (l Location) EngineConfig() EngineConfig {
	return EngineConfig{
		KpThreshold:  l.KpThreshold,
		Latitude:     l.Latitude,
		Longitude:    l.Longitude,
		LocationName: l.Name,
		TimezoneName: l.TimezoneName,
	}
}

// KpRecord is one 3-hour (GFZ) or 1-minute (SWPC) Kp value.
type KpRecord struct {
	Source     string
	ObservedAt time.Time
	Kp         float64
	Status     string // GFZ: "pre", "def", "now"
}

// StatusLabel returns a human label for the GFZ quality code.
func (r KpRecord) StatusLabel() string {
	return GFZStatusLabel(r.Status)
}

func GFZStatusLabel(code string) string {
	if code == "" {
		return "Unspecified"
	}
	switch strings.ToLower(code) {
	case "pre":
		return "Preliminary"
	case "def":
		return "Definitive"
	case "now":
		return "Nowcast"
	}
	if len(code) <= 4 {
		return strings.ToUpper(code)
	}
	return code
}

const DefaultGFZSourceNote = "GFZ German Research Centre for Geosciences (CC BY 4.0)"

const SWPCSourceNote = "NOAA SWPC (public domain)"

// GFZSeries is an ascending series of GFZ Kp records.
type GFZSeries struct {
	Records    []KpRecord
	SourceNote string
}

// Latest returns the last record, or nil for an empty series.
func (s *GFZSeries) Latest() *KpRecord {
	if s == nil || len(s.Records) == 0 {
		return nil
	}
	return &s.Records[len(s.Records)-1]
}

// HighBlock is a real-time Kp reading at or above the alert threshold.
type HighBlock struct {
	Time time.Time
	Kp   float64
	Kind string // "observed" or "estimated"
}

// PlanetaryK is the latest SWPC planetary K reading and the trailing
// high blocks.
type PlanetaryK struct {
	ObservedAt  time.Time
	KpIndex     sql.NullFloat64
	EstimatedKp sql.NullFloat64
	Flag        sql.NullString
	HighBlocks  []HighBlock
}

// Effective returns the observed Kp, falling back to the estimate.
func (p *PlanetaryK) Effective() sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	if p.KpIndex.Valid {
		return p.KpIndex
	}
	return p.EstimatedKp
}

// HemiPower is the latest hemispheric power reading in gigawatts.
type HemiPower struct {
	ObservedAt time.Time
	ForecastAt time.Time
	NorthGW    float64
	SouthGW    float64
	TotalGW    float64 // max(north, south), the peak hemisphere
}

type CloudSample struct {
	Time  time.Time
	Cover float64
}

// ThirdPartyForecast holds the values picked out of the My Aurora
// Forecast payload.
type ThirdPartyForecast struct {
	Kp          sql.NullFloat64
	Probability sql.NullInt64
	CloudCover  sql.NullFloat64
}

// Snapshot is the auroraforecast.me conditions snapshot.
type Snapshot struct {
	TonightStatus      string
	TonightStatusText  string
	TonightProbability sql.NullFloat64
	BestHour           string
	UpdatedAt          sql.NullTime
	KpIndex            sql.NullFloat64
	CloudCover         sql.NullFloat64
	SkyDarkness        string
	Hours              []SnapshotHour
}

type SnapshotHour struct {
	Time        sql.NullTime
	DisplayTime string
	Kp          sql.NullFloat64
	ProbBase    sql.NullFloat64
	ProbAdj     sql.NullFloat64
}

// SourceData is one consistent snapshot of every source adapter result.
// A nil pointer, empty slice or invalid Null value means the source was
// unavailable.
type SourceData struct {
	FetchedAt       time.Time
	ForecastText    string
	GFZ             *GFZSeries
	Planetary       *PlanetaryK
	Hemi            *HemiPower
	Ovation         sql.NullInt64
	Clouds          []CloudSample
	SecondaryClouds []CloudSample
	ThirdParty      *ThirdPartyForecast
	Snapshot        *Snapshot
}

// SourceHealth records which sources produced usable data at CheckedAt.
type SourceHealth struct {
	CheckedAt time.Time
	Sources   map[string]bool
}

// RequiredOK reports whether every required source is healthy.
func (h SourceHealth) RequiredOK() bool {
	if h.Sources == nil {
		return false
	}
	for _, name := range RequiredSources {
		if !h.Sources[name] {
			return false
		}
	}
	return true
}

// Summary renders "name=OK" pairs for the required then optional sources.
func (h SourceHealth) Summary() string {
	var parts []string
	for _, name := range append(append([]string{}, RequiredSources...), OptionalSources...) {
		ok, seen := h.Sources[name]
		if !seen {
			continue
		}
		status := "FAIL"
		if ok {
			status = "OK"
		}
		parts = append(parts, name+"="+status)
	}
	return strings.Join(parts, ", ")
}

// Escalation is a newly observed real-time high Kp token for a location.
type Escalation struct {
	ID         int64
	LocationID int64
	Token      string
	Source     string
	ObservedAt time.Time
	Kp         float64
	Message    string
	CreatedAt  time.Time
}
