package forecast

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/aurorawatch/internal/models"
)

// Engine turns one snapshot of source data into an AlertBuild. It does no
// I/O and keeps no state between builds.
type Engine struct {
	cfg   models.EngineConfig
	loc   *time.Location
	clock clockwork.Clock
}

// NewEngine validates cfg and resolves its timezone. A nil clock uses the
// wall clock.
func NewEngine(cfg models.EngineConfig, clock clockwork.Clock) (*Engine, error) {
	if cfg.Latitude < -90 || cfg.Latitude > 90 {
		return nil, fmt.Errorf("latitude %v out of range", cfg.Latitude)
	}
	if cfg.Longitude < -180 || cfg.Longitude > 180 {
		return nil, fmt.Errorf("longitude %v out of range", cfg.Longitude)
	}
	if cfg.KpThreshold < 0 || cfg.KpThreshold > 9 {
		return nil, fmt.Errorf("kp threshold %v out of range", cfg.KpThreshold)
	}
	name := cfg.TimezoneName
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{cfg: cfg, loc: loc, clock: clock}, nil
}

func (e *Engine) Config() models.EngineConfig { return e.cfg }

func (e *Engine) Location() *time.Location { return e.loc }

// AlertBuild is the immutable result of one build. ComputedAt is not part
// of the identity of a build.
type AlertBuild struct {
	Config     models.EngineConfig
	Table      *KpTable
	Detections []Detection
	Groups     []DetectionGroup

	ForecastLines       []string
	GFZLatestLine       string
	GFZSummaryLines     []string
	GFZSourceNote       string
	PlanetaryLine       string
	HemiLines           []string
	SWPCSourceNote      string
	SourcesLine         string
	ThirdPartySummary   string
	SnapshotTonightLine string
	SnapshotConditions  string
	SnapshotHourLines   []string
	OvationLine         string
	CloudLine           string
	Recommendations     []string
	UpcomingDays        []string

	CloudAvailable bool
	Ovation        sql.NullInt64

	WindowID       string
	GFZHighBlocks  []models.HighBlock
	SWPCHighBlocks []models.HighBlock
	Signature      string
	CombinedID     string

	ComputedAt time.Time
}

// GroupLines returns the detection bullets per date label in order.
func (b *AlertBuild) GroupLines(loc *time.Location) []string {
	var lines []string
	for _, g := range b.Groups {
		lines = append(lines, g.Label)
		for _, d := range g.Detections {
			lines = append(lines, DetectionLine(d, loc))
		}
	}
	return lines
}

func (e *Engine) scoreContext(data models.SourceData) scoreContext {
	sc := scoreContext{
		latitude:   e.cfg.Latitude,
		ovation:    data.Ovation,
		thirdParty: thirdPartyProbability(data.ThirdParty),
		swpcKp:     data.Planetary.Effective(),
	}
	if latest := data.GFZ.Latest(); latest != nil {
		sc.gfzKp = sql.NullFloat64{Float64: latest.Kp, Valid: true}
	}
	if data.Hemi != nil {
		sc.hemiPower = sql.NullFloat64{Float64: data.Hemi.TotalGW, Valid: true}
	}
	if data.Snapshot != nil {
		sc.skyDarkness = data.Snapshot.SkyDarkness
	}
	return sc
}

func thirdPartyProbability(tp *models.ThirdPartyForecast) sql.NullInt64 {
	if tp == nil {
		return sql.NullInt64{}
	}
	return tp.Probability
}

// primaryClouds falls back to the secondary provider when the primary
// returned nothing.
func primaryClouds(data models.SourceData) []models.CloudSample {
	if len(data.Clouds) > 0 {
		return data.Clouds
	}
	return data.SecondaryClouds
}

// Build parses the forecast table and assembles the alert. It returns
// ErrNoForecastData when the table is missing or malformed.
func (e *Engine) Build(data models.SourceData) (*AlertBuild, error) {
	now := e.clock.Now().UTC()
	threshold := e.cfg.KpThreshold

	table, err := ParseKpTable(data.ForecastText, now)
	if err != nil {
		return nil, err
	}

	sc := e.scoreContext(data)
	clouds := primaryClouds(data)
	detections := buildDetections(table, threshold, clouds, data.SecondaryClouds, sc, e.loc)

	gfzHigh := GFZHighBlocks(data.GFZ, threshold, now)
	var swpcHigh []models.HighBlock
	if data.Planetary != nil {
		swpcHigh = SWPCBlockMaxima(recentBlocks(data.Planetary.HighBlocks, threshold, now))
	}
	windowID := WindowID(table.FirstDay(), table.LastDay(), threshold)
	signature := DetectionSignature(gfzHigh, swpcHigh)

	build := &AlertBuild{
		Config:     e.cfg,
		Table:      table,
		Detections: detections,
		Groups:     groupDetections(detections),

		ForecastLines:     forecastLines(table, threshold, e.loc),
		GFZLatestLine:     gfzLatestLine(data.GFZ, e.loc),
		GFZSummaryLines:   gfzSummaryLines(data.GFZ, threshold, e.loc),
		GFZSourceNote:     gfzSourceNote(data.GFZ),
		PlanetaryLine:     planetaryLine(data.Planetary, e.loc),
		HemiLines:         hemiLines(data.Hemi, e.loc),
		SWPCSourceNote:    models.SWPCSourceNote,
		SourcesLine:       sourcesLine(data.GFZ, sc.swpcKp, data.Hemi, data.Ovation, sc.thirdParty),
		ThirdPartySummary: thirdPartySummary(data.ThirdParty),
		OvationLine:       ovationLine(data.Ovation),
		CloudLine:         cloudLine(len(clouds) > 0, e.cfg.LocationName),
		Recommendations:   recommendationLines(detections, now, data.Snapshot, data.Ovation, sc.thirdParty, sc.gfzKp, e.loc),
		UpcomingDays:      upcomingDaysLines(detections, e.cfg.Latitude, data.Snapshot, data.Ovation, data.Hemi, sc.gfzKp, e.loc),

		CloudAvailable: len(clouds) > 0,
		Ovation:        data.Ovation,

		WindowID:       windowID,
		GFZHighBlocks:  gfzHigh,
		SWPCHighBlocks: swpcHigh,
		Signature:      signature,
		CombinedID:     CombinedID(windowID, signature),

		ComputedAt: now,
	}
	build.SnapshotTonightLine, build.SnapshotConditions, build.SnapshotHourLines = snapshotLines(data.Snapshot, e.loc)

	return build, nil
}

// recentBlocks drops blocks outside the signature lookback or below the
// threshold the adapter may have been configured with.
func recentBlocks(blocks []models.HighBlock, threshold float64, now time.Time) []models.HighBlock {
	cutoff := now.Add(-signatureLookback)
	var out []models.HighBlock
	for _, b := range blocks {
		if b.Time.Before(cutoff) || b.Kp < threshold {
			continue
		}
		out = append(out, b)
	}
	return out
}

func gfzSourceNote(series *models.GFZSeries) string {
	if series == nil || series.SourceNote == "" {
		return models.DefaultGFZSourceNote
	}
	return series.SourceNote
}
