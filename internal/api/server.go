package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/aurorawatch/internal/ingest"
	"github.com/lox/aurorawatch/internal/models"
	"github.com/lox/aurorawatch/internal/store"
)

// Collector gathers a source snapshot for one observer.
type Collector interface {
	Collect(ctx context.Context, cfg models.EngineConfig) *ingest.Collection
}

type Server struct {
	store     *store.Store
	collector Collector
	port      string
	clock     clockwork.Clock

	mu     sync.RWMutex
	health models.SourceHealth
}

func NewServer(store *store.Store, collector Collector, port string, clock clockwork.Clock) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Server{
		store:     store,
		collector: collector,
		port:      port,
		clock:     clock,
	}
}

// SetHealth replaces the source health reported by /health. The scheduler
// calls it after every collection.
func (s *Server) SetHealth(h models.SourceHealth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = h
}

func (s *Server) Health() models.SourceHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/locations", s.handleAPILocations)
	mux.HandleFunc("/api/build", s.handleAPIBuild)
	mux.HandleFunc("/api/series", s.handleAPISeries)
	mux.HandleFunc("/api/kp", s.handleAPIKp)
	mux.HandleFunc("/api/escalations", s.handleAPIEscalations)
	mux.HandleFunc("/api/fetch", s.handleAPIFetch)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// HealthStatus is the /health response.
type HealthStatus struct {
	Status           string            `json:"status"`
	CheckedAt        *time.Time        `json:"checked_at,omitempty"`
	Sources          map[string]bool   `json:"sources,omitempty"`
	MigrationVersion int               `json:"migration_version"`
	Fetches          []SourceFetchView `json:"fetches,omitempty"`
	RecentFailures   []FetchView       `json:"recent_failures,omitempty"`
	Payloads         *PayloadUsageView `json:"payloads,omitempty"`
	Errors           []string          `json:"errors,omitempty"`
}

const (
	healthFetchWindow  = 24 * time.Hour
	healthFailureLimit = 5
)

// fetchHealth fills in the stored fetch audit: per-source calls over the
// last day, the latest failures and the payload archive size.
func (s *Server) fetchHealth(health *HealthStatus) error {
	stats, err := s.store.FetchStats(s.clock.Now().Add(-healthFetchWindow))
	if err != nil {
		return err
	}
	for _, st := range stats {
		health.Fetches = append(health.Fetches, sourceFetchView(st))
	}

	failures, err := s.store.RecentFetchFailures(healthFailureLimit)
	if err != nil {
		return err
	}
	for _, f := range failures {
		health.RecentFailures = append(health.RecentFailures, fetchView(f))
	}

	usage, err := s.store.PayloadUsage()
	if err != nil {
		return err
	}
	health.Payloads = &PayloadUsageView{
		Count:           usage.Count,
		CompressedBytes: usage.CompressedBytes,
		RawBytes:        usage.RawBytes,
		BySource:        usage.BySource,
	}
	if !usage.Newest.IsZero() {
		at := usage.Newest
		health.Payloads.Newest = &at
	}
	return nil
}

// handleHealth reports "starting" until the first collection, "degraded"
// when a required source is down and "error" when the store is unusable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok"}

	version, err := s.store.MigrationVersion()
	if err != nil {
		health.Errors = append(health.Errors, "store: "+err.Error())
	}
	health.MigrationVersion = version

	if err := s.fetchHealth(&health); err != nil {
		health.Errors = append(health.Errors, "store: "+err.Error())
	}

	h := s.Health()
	switch {
	case h.CheckedAt.IsZero():
		health.Status = "starting"
	case !h.RequiredOK():
		health.Status = "degraded"
	}
	if !h.CheckedAt.IsZero() {
		at := h.CheckedAt
		health.CheckedAt = &at
		health.Sources = h.Sources
	}
	if len(health.Errors) > 0 {
		health.Status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "degraded" || health.Status == "error" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		log.Printf("health: write response: %v", err)
	}
}
