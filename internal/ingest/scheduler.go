package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/aurorawatch/internal/forecast"
	"github.com/lox/aurorawatch/internal/metrics"
	"github.com/lox/aurorawatch/internal/models"
	"github.com/lox/aurorawatch/internal/store"
)

const (
	DefaultUpdateInterval = 2 * time.Hour
	DefaultHealthInterval = 30 * time.Minute

	fetchRetention        = 30 * 24 * time.Hour
	providerCallRetention = 7 * 24 * time.Hour
)

// Outcome statuses of processing one location.
const (
	OutcomeFirstRun  = "first_run"
	OutcomeUnchanged = "unchanged"
	OutcomeUpdated   = "updated"
	OutcomeEscalated = "escalated"
)

// Outcome is the result of one location cycle.
type Outcome struct {
	Location    models.Location
	Build       *forecast.AlertBuild
	Health      models.SourceHealth
	Status      string
	Added       []string
	Escalations []models.Escalation
}

type Scheduler struct {
	store          *store.Store
	collector      *Collector
	notifier       Notifier
	clock          clockwork.Clock
	updateInterval time.Duration
	healthInterval time.Duration
	onHealth       func(models.SourceHealth)
	defaults       models.EngineConfig
}

func NewScheduler(st *store.Store, collector *Collector, notifier Notifier, clock clockwork.Clock) *Scheduler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		store:          st,
		collector:      collector,
		notifier:       notifier,
		clock:          clock,
		updateInterval: DefaultUpdateInterval,
		healthInterval: DefaultHealthInterval,
		defaults: models.EngineConfig{
			KpThreshold:  models.DefaultKpThreshold,
			Latitude:     models.DefaultLatitude,
			Longitude:    models.DefaultLongitude,
			LocationName: models.DefaultLocationName,
			TimezoneName: models.DefaultTimezone,
		},
	}
}

// SetIntervals overrides the update and health refresh intervals. Zero
// values keep the current setting.
func (s *Scheduler) SetIntervals(update, health time.Duration) {
	if update > 0 {
		s.updateInterval = update
	}
	if health > 0 {
		s.healthInterval = health
	}
}

// SetDefaultLocation is the observer used for health checks when no
// location is stored.
func (s *Scheduler) SetDefaultLocation(cfg models.EngineConfig) {
	s.defaults = cfg
}

// OnHealth registers a callback receiving every refreshed health value.
func (s *Scheduler) OnHealth(fn func(models.SourceHealth)) {
	s.onHealth = fn
}

func (s *Scheduler) Run(ctx context.Context) {
	s.RefreshHealth(ctx)
	s.runUpdates(ctx)
	s.cleanup()

	updateTicker := s.clock.NewTicker(s.updateInterval)
	healthTicker := s.clock.NewTicker(s.healthInterval)
	cleanupTicker := s.clock.NewTicker(24 * time.Hour)
	defer updateTicker.Stop()
	defer healthTicker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-updateTicker.Chan():
			s.runUpdates(ctx)
		case <-healthTicker.Chan():
			s.RefreshHealth(ctx)
		case <-cleanupTicker.Chan():
			s.cleanup()
		}
	}
}

func (s *Scheduler) runUpdates(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		log.Printf("scheduler: update: %v", err)
	}
}

// RunOnce processes every active location once. A failing location is
// logged and does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) ([]*Outcome, error) {
	locations, err := s.store.ListLocations(true)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	if len(locations) == 0 {
		log.Println("scheduler: no active locations")
		return nil, nil
	}

	var outcomes []*Outcome
	for _, loc := range locations {
		if ctx.Err() != nil {
			return outcomes, ctx.Err()
		}
		out, err := s.ProcessLocation(ctx, loc)
		if err != nil {
			log.Printf("scheduler: %s: %v", loc.Name, err)
			continue
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// RefreshHealth collects for the first active location, or the default
// observer, and publishes the resulting health.
func (s *Scheduler) RefreshHealth(ctx context.Context) models.SourceHealth {
	cfg := s.defaults
	if locations, err := s.store.ListLocations(true); err != nil {
		log.Printf("scheduler: health: %v", err)
	} else if len(locations) > 0 {
		cfg = locations[0].EngineConfig()
	}

	col := s.collector.Collect(ctx, cfg)
	s.publishHealth(col.Health)
	log.Printf("scheduler: health %s", col.Health.Summary())
	return col.Health
}

func (s *Scheduler) publishHealth(h models.SourceHealth) {
	if s.onHealth != nil {
		s.onHealth(h)
	}
}

// ProcessLocation collects, persists and builds for one location, then
// compares the build's combined id with the stored one. Only real-time
// tokens that were not in the previous signature produce an alert.
func (s *Scheduler) ProcessLocation(ctx context.Context, loc models.Location) (*Outcome, error) {
	label := loc.Name
	engine, err := forecast.NewEngine(loc.EngineConfig(), s.clock)
	if err != nil {
		metrics.BuildsSkipped.WithLabelValues(label, "config").Inc()
		return nil, fmt.Errorf("engine: %w", err)
	}

	col := s.collector.Collect(ctx, loc.EngineConfig())
	s.publishHealth(col.Health)
	s.recordFetches(loc.ID, col)
	s.storeKpHistory(col.Data)

	if !col.Health.RequiredOK() {
		metrics.BuildsDegraded.WithLabelValues(label).Inc()
		log.Printf("scheduler: %s: building with unhealthy sources: %s", label, col.Health.Summary())
	}

	build, err := engine.Build(col.Data)
	if errors.Is(err, forecast.ErrNoForecastData) {
		metrics.BuildsSkipped.WithLabelValues(label, "no_forecast").Inc()
		return nil, err
	}
	if err != nil {
		metrics.BuildsSkipped.WithLabelValues(label, "build").Inc()
		return nil, fmt.Errorf("build: %w", err)
	}
	metrics.DetectionsBuilt.WithLabelValues(label).Add(float64(len(build.Detections)))

	out := &Outcome{Location: loc, Build: build, Health: col.Health}

	switch {
	case !loc.LastCombinedID.Valid:
		out.Status = OutcomeFirstRun
		log.Printf("scheduler: %s: first run, storing %s", label, build.CombinedID)
	case loc.LastCombinedID.String == build.CombinedID:
		out.Status = OutcomeUnchanged
		return out, nil
	default:
		_, prevSig := forecast.SplitCombinedID(loc.LastCombinedID.String)
		out.Added = forecast.AddedTokens(prevSig, build.Signature)
		out.Status = OutcomeUpdated
		if len(out.Added) > 0 {
			if err := s.escalate(ctx, loc, engine, build, out); err != nil {
				return nil, err
			}
		} else {
			log.Printf("scheduler: %s: combined id changed without new tokens", label)
		}
	}

	var alertAt sql.NullTime
	if out.Status == OutcomeEscalated {
		alertAt = sql.NullTime{Time: s.clock.Now().UTC(), Valid: true}
	}
	if err := s.store.UpdateLocationAlertState(loc.ID, build.CombinedID, alertAt); err != nil {
		return nil, fmt.Errorf("update alert state: %w", err)
	}
	return out, nil
}

// escalate records the added tokens and sends one alert for those that
// were not already recorded for the location at an equal or higher Kp.
func (s *Scheduler) escalate(ctx context.Context, loc models.Location, engine *forecast.Engine, build *forecast.AlertBuild, out *Outcome) error {
	var fresh []string
	for _, raw := range out.Added {
		tok, ok := forecast.ParseToken(raw)
		if !ok {
			fresh = append(fresh, raw)
			continue
		}
		e := &models.Escalation{
			LocationID: loc.ID,
			Token:      raw,
			Source:     tok.Source,
			ObservedAt: tok.Time,
			Kp:         tok.Kp,
			Message:    strings.Join(forecast.DescribeEscalations([]string{raw}, engine.Location()), "; "),
			CreatedAt:  s.clock.Now().UTC(),
		}
		peak, err := s.store.MaxEscalatedKp(loc.ID, tok.Source, tok.Time)
		if err != nil {
			return err
		}
		if peak.Valid && tok.Kp <= peak.Float64 {
			continue
		}
		inserted, err := s.store.InsertEscalation(e)
		if err != nil {
			return err
		}
		if inserted {
			fresh = append(fresh, raw)
			out.Escalations = append(out.Escalations, *e)
		}
	}
	if len(fresh) == 0 {
		log.Printf("scheduler: %s: added tokens already alerted", loc.Name)
		return nil
	}

	out.Status = OutcomeEscalated
	metrics.EscalationsTotal.WithLabelValues(loc.Name).Inc()
	if err := s.notifier.Notify(ctx, build.EscalationText(fresh, engine.Location())); err != nil {
		log.Printf("scheduler: %s: notify: %v", loc.Name, err)
	}
	return nil
}

// recordFetches audits one row per payload and per source that failed
// without returning a body.
func (s *Scheduler) recordFetches(locationID int64, col *Collection) {
	now := s.clock.Now()
	seen := make(map[string]bool)

	for _, p := range col.Payloads {
		seen[p.Source] = true
		rec := &store.FetchRecord{
			LocationID: locationID,
			Source:     p.Source,
			Endpoint:   p.Endpoint,
			FetchedAt:  now,
			Body:       p.Body,
		}
		if r := p.Result; r != nil {
			rec.HTTPStatus = r.HTTPStatus
			rec.Bytes = r.ResponseSize
			rec.Records = r.RecordCount
			rec.ParseErrors = r.ParseErrors
			rec.Note = r.ParseError
		}
		if err := col.Errors[p.Source]; err != nil {
			rec.Error = err.Error()
		}
		if _, err := s.store.RecordFetch(rec); err != nil {
			log.Printf("scheduler: record fetch: %v", err)
		}
	}

	for source, fetchErr := range col.Errors {
		if seen[source] {
			continue
		}
		rec := &store.FetchRecord{
			LocationID: locationID,
			Source:     source,
			Endpoint:   source,
			FetchedAt:  now,
			Error:      fetchErr.Error(),
		}
		if _, err := s.store.RecordFetch(rec); err != nil {
			log.Printf("scheduler: record fetch: %v", err)
		}
	}
}

// storeKpHistory keeps GFZ blocks and the latest SWPC reading.
func (s *Scheduler) storeKpHistory(data models.SourceData) {
	var records []models.KpRecord
	if data.GFZ != nil {
		records = append(records, data.GFZ.Records...)
	}
	if kp := data.Planetary.Effective(); kp.Valid && !data.Planetary.ObservedAt.IsZero() {
		records = append(records, models.KpRecord{
			Source:     models.SourceSWPCPlanetary,
			ObservedAt: data.Planetary.ObservedAt,
			Kp:         kp.Float64,
		})
	}

	clean, _ := CleanKpRecords(records, s.clock.Now())
	if _, err := s.store.UpsertKpRecords(clean); err != nil {
		log.Printf("scheduler: store kp history: %v", err)
	}
}

func (s *Scheduler) cleanup() {
	runs, payloads, err := s.store.PruneFetches(s.clock.Now().Add(-fetchRetention))
	if err != nil {
		log.Printf("scheduler: prune fetches: %v", err)
	} else if runs > 0 || payloads > 0 {
		log.Printf("scheduler: pruned %d fetches and %d payloads", runs, payloads)
	}
	if _, err := s.store.CleanupProviderCalls(s.clock.Now().Add(-providerCallRetention)); err != nil {
		log.Printf("scheduler: cleanup provider calls: %v", err)
	}
}
