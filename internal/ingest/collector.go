package ingest

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/lox/aurorawatch/internal/metrics"
	"github.com/lox/aurorawatch/internal/models"
)

const (
	DefaultFetchTimeout = 25 * time.Second
	DefaultGFZHoursBack = 24

	maxConcurrentFetches = 8
)

// Sources holds the adapters a Collector fans out to. A nil adapter is
// skipped and its source reported unavailable.
type Sources struct {
	NOAA        *NOAAClient
	GFZ         *GFZClient
	SWPC        *SWPCClient
	Ovation     *OvationClient
	Clouds      *OpenMeteoClient
	OpenWeather *OpenWeatherClient
	MAF         *MAFClient
	Snapshot    *SnapshotClient
}

// Collection is one collection cycle: the source snapshot handed to the
// engine, per-source health, the raw payloads for storage and the errors
// that made a source unavailable.
type Collection struct {
	Data     models.SourceData
	Health   models.SourceHealth
	Payloads []*Payload
	Errors   map[string]error
}

// Collector runs every adapter concurrently, each under its own timeout.
type Collector struct {
	sources  Sources
	timeout  time.Duration
	gfzHours int
	clock    clockwork.Clock
}

func NewCollector(sources Sources, timeout time.Duration, clock clockwork.Clock) *Collector {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Collector{sources: sources, timeout: timeout, gfzHours: DefaultGFZHoursBack, clock: clock}
}

type collecting struct {
	mu sync.Mutex
	c  *Collection
}

func (s *collecting) record(source string, start time.Time, payload *Payload, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.SourceCallsTotal.WithLabelValues(source, status).Inc()
	metrics.SourceLatency.WithLabelValues(source).Observe(time.Since(start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	if payload != nil {
		s.c.Payloads = append(s.c.Payloads, payload)
	}
	if err != nil {
		s.c.Errors[source] = err
	}
}

// Collect gathers a snapshot for one observer. It never fails as a whole:
// a source that errors or times out is left empty in Data and reported
// in Health and Errors.
func (c *Collector) Collect(ctx context.Context, cfg models.EngineConfig) *Collection {
	col := &Collection{Errors: make(map[string]error)}
	col.Data.FetchedAt = c.clock.Now().UTC()
	state := &collecting{c: col}
	data := &col.Data

	var g errgroup.Group
	g.SetLimit(maxConcurrentFetches)

	fetch := func(source string, fn func(ctx context.Context) (*Payload, error)) {
		if ctx.Err() != nil {
			state.record(source, time.Now(), nil, ctx.Err())
			return
		}
		fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		start := time.Now()
		payload, err := fn(fetchCtx)
		if err != nil {
			log.Printf("collector: %s: %v", source, err)
		}
		state.record(source, start, payload, err)
	}
	run := func(source string, fn func(ctx context.Context) (*Payload, error)) {
		g.Go(func() error {
			fetch(source, fn)
			return nil
		})
	}

	s := c.sources
	if s.NOAA != nil {
		run(models.SourceNOAAForecast, func(ctx context.Context) (*Payload, error) {
			text, p, err := s.NOAA.FetchForecastText(ctx)
			data.ForecastText = text
			return p, err
		})
	}
	if s.GFZ != nil {
		run(models.SourceGFZ, func(ctx context.Context) (*Payload, error) {
			series, p, err := s.GFZ.FetchRecent(ctx, c.gfzHours)
			data.GFZ = series
			return p, err
		})
	}
	if s.SWPC != nil {
		run(models.SourceSWPCPlanetary, func(ctx context.Context) (*Payload, error) {
			planetary, p, err := s.SWPC.FetchPlanetary(ctx, cfg.KpThreshold)
			data.Planetary = planetary
			return p, err
		})
		run(models.SourceSWPCHemi, func(ctx context.Context) (*Payload, error) {
			hemi, p, err := s.SWPC.FetchHemiPower(ctx)
			data.Hemi = hemi
			return p, err
		})
	}
	if s.Ovation != nil {
		run(models.SourceOvation, func(ctx context.Context) (*Payload, error) {
			prob, p, err := s.Ovation.FetchProbability(ctx, cfg.Latitude, cfg.Longitude)
			data.Ovation = prob
			return p, err
		})
	}
	if s.Clouds != nil {
		run(models.SourceCloudCover, func(ctx context.Context) (*Payload, error) {
			samples, p, err := s.Clouds.FetchHourly(ctx, cfg.Latitude, cfg.Longitude)
			data.Clouds, _ = CleanCloudSamples(samples)
			return p, err
		})
	}
	if s.MAF != nil {
		run(models.SourceMAF, func(ctx context.Context) (*Payload, error) {
			tp, p, err := s.MAF.Fetch(ctx, cfg.Latitude, cfg.Longitude, cfg.TimezoneName)
			data.ThirdParty = tp
			return p, err
		})
	}
	if s.Snapshot != nil {
		run(models.SourceSnapshot, func(ctx context.Context) (*Payload, error) {
			snap, p, err := s.Snapshot.Fetch(ctx, cfg.Latitude, cfg.Longitude)
			data.Snapshot = snap
			return p, err
		})
	}

	_ = g.Wait()

	// OpenWeather is metered, so it is only asked when Open-Meteo came
	// back empty.
	if s.OpenWeather != nil && len(data.Clouds) == 0 {
		fetch(ProviderOpenWeather, func(ctx context.Context) (*Payload, error) {
			samples, p, err := s.OpenWeather.FetchHourly(ctx, cfg.Latitude, cfg.Longitude)
			data.SecondaryClouds, _ = CleanCloudSamples(samples)
			return p, err
		})
	}

	col.Health = HealthOf(col.Data, c.clock.Now().UTC())
	return col
}

// HealthOf reports which sources produced usable data in d.
func HealthOf(d models.SourceData, at time.Time) models.SourceHealth {
	var gfzOK bool
	if d.GFZ != nil {
		gfzOK = len(d.GFZ.Records) > 0
	}
	h := models.SourceHealth{
		CheckedAt: at,
		Sources: map[string]bool{
			models.SourceNOAAForecast:  strings.Contains(d.ForecastText, "NOAA Kp index breakdown"),
			models.SourceGFZ:           gfzOK,
			models.SourceSWPCPlanetary: d.Planetary != nil,
			models.SourceCloudCover:    len(d.Clouds) > 0 || len(d.SecondaryClouds) > 0,
			models.SourceOvation:       d.Ovation.Valid,
			models.SourceMAF:           d.ThirdParty != nil,
			models.SourceSnapshot:      d.Snapshot != nil,
			models.SourceSWPCHemi:      d.Hemi != nil,
		},
	}
	for name, ok := range h.Sources {
		v := 0.0
		if ok {
			v = 1
		}
		metrics.SourceHealthy.WithLabelValues(name).Set(v)
	}
	return h
}
