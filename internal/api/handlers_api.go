package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/lox/aurorawatch/internal/forecast"
	"github.com/lox/aurorawatch/internal/models"
	"github.com/lox/aurorawatch/internal/store"
)

const maxKpHours = 24 * 30

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// lookupLocation resolves ?location= as an id or a name. Without the
// parameter the first active location is used.
func (s *Server) lookupLocation(r *http.Request) (*models.Location, error) {
	ref := r.URL.Query().Get("location")
	if ref == "" {
		locations, err := s.store.ListLocations(true)
		if err != nil {
			return nil, err
		}
		if len(locations) == 0 {
			return nil, nil
		}
		return &locations[0], nil
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.store.GetLocation(id)
	}
	return s.store.GetLocationByName(ref)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func (s *Server) handleAPILocations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		locations, err := s.store.ListLocations(r.URL.Query().Get("all") == "")
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		views := make([]LocationView, 0, len(locations))
		for _, l := range locations {
			views = append(views, locationView(l))
		}
		writeJSON(w, http.StatusOK, views)

	case http.MethodPost:
		var req LocationView
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode location: %w", err))
			return
		}
		l := &models.Location{
			Name:         req.Name,
			Latitude:     req.Latitude,
			Longitude:    req.Longitude,
			TimezoneName: req.Timezone,
			KpThreshold:  req.KpThreshold,
			Active:       true,
		}
		if l.KpThreshold == 0 {
			l.KpThreshold = models.DefaultKpThreshold
		}
		if l.Name == "" {
			writeError(w, http.StatusBadRequest, errors.New("name is required"))
			return
		}
		if _, err := forecast.NewEngine(l.EngineConfig(), nil); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.store.CreateLocation(l); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, store.ErrLocationExists) {
				status = http.StatusConflict
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusCreated, locationView(*l))

	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

// handleAPIBuild collects live data for the location and returns the
// build. Nothing is stored.
func (s *Server) handleAPIBuild(w http.ResponseWriter, r *http.Request) {
	loc, err := s.lookupLocation(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if loc == nil {
		writeError(w, http.StatusNotFound, errors.New("location not found"))
		return
	}
	engine, err := forecast.NewEngine(loc.EngineConfig(), s.clock)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	col := s.collector.Collect(r.Context(), loc.EngineConfig())
	build, err := engine.Build(col.Data)
	if errors.Is(err, forecast.ErrNoForecastData) {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, buildView(build, col.Health, engine.Location()))
}

func (s *Server) handleAPISeries(w http.ResponseWriter, r *http.Request) {
	minutes, err := intParam(r, "minutes", forecast.DefaultSeriesMinutes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	step, err := intParam(r, "step", forecast.DefaultSeriesStep)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	loc, err := s.lookupLocation(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if loc == nil {
		writeError(w, http.StatusNotFound, errors.New("location not found"))
		return
	}
	engine, err := forecast.NewEngine(loc.EngineConfig(), s.clock)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	col := s.collector.Collect(r.Context(), loc.EngineConfig())
	series, err := engine.ShortTermSeries(col.Data, minutes, step)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, seriesView(loc.Name, series))
}

func (s *Server) handleAPIKp(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", 24)
	if err != nil || hours <= 0 || hours > maxKpHours {
		writeError(w, http.StatusBadRequest, fmt.Errorf("hours must be between 1 and %d", maxKpHours))
		return
	}

	since := s.clock.Now().Add(-time.Duration(hours) * time.Hour)
	source := r.URL.Query().Get("source")
	if r.URL.Query().Get("daily") != "" {
		days, err := s.store.GetDailyKpMax(source, since)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		views := make([]DailyKpView, 0, len(days))
		for _, d := range days {
			views = append(views, DailyKpView{Date: d.Date, Kp: d.Kp, Count: d.Count})
		}
		writeJSON(w, http.StatusOK, views)
		return
	}

	records, err := s.store.GetKpRecords(source, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]KpRecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, KpRecordView{Source: rec.Source, ObservedAt: rec.ObservedAt, Kp: rec.Kp, Status: rec.Status})
	}
	writeJSON(w, http.StatusOK, views)
}

// handleAPIFetch returns one audited fetch with its stored response body.
func (s *Server) handleAPIFetch(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "id", 0)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("id is required"))
		return
	}
	rec, err := s.store.GetFetch(int64(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, errors.New("fetch not found"))
		return
	}
	writeJSON(w, http.StatusOK, fetchView(*rec))
}

func (s *Server) handleAPIEscalations(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
		return
	}

	var locationID int64
	if r.URL.Query().Get("location") != "" {
		loc, err := s.lookupLocation(r)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if loc == nil {
			writeError(w, http.StatusNotFound, errors.New("location not found"))
			return
		}
		locationID = loc.ID
	}

	escalations, err := s.store.GetRecentEscalations(locationID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]EscalationView, 0, len(escalations))
	for _, e := range escalations {
		views = append(views, escalationView(e))
	}
	writeJSON(w, http.StatusOK, views)
}
