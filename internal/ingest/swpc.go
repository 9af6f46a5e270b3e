package ingest

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/aurorawatch/internal/httputil"
	"github.com/lox/aurorawatch/internal/models"
)

const (
	DefaultPlanetaryURL = "https://services.swpc.noaa.gov/json/planetary_k_index_1m.json"
	DefaultHemiPowerURL = "https://services.swpc.noaa.gov/text/aurora-nowcast-hemi-power.txt"

	planetaryLookback = 12 * time.Hour
	hemiTimeLayout    = "2006-01-02_15:04"
)

// SWPCClient fetches the SWPC planetary K index and hemispheric power.
type SWPCClient struct {
	client       *http.Client
	planetaryURL string
	hemiURL      string
	clock        clockwork.Clock
}

func NewSWPCClient(planetaryURL, hemiURL string, clock clockwork.Clock) *SWPCClient {
	if planetaryURL == "" {
		planetaryURL = DefaultPlanetaryURL
	}
	if hemiURL == "" {
		hemiURL = DefaultHemiPowerURL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SWPCClient{
		client:       httputil.NewClient(),
		planetaryURL: planetaryURL,
		hemiURL:      hemiURL,
		clock:        clock,
	}
}

type planetaryEntry struct {
	TimeTag     string   `json:"time_tag"`
	TimeTagAlt  string   `json:"timeTag"`
	KpIndex     *float64 `json:"kp_index"`
	EstimatedKp *float64 `json:"estimated_kp"`
	Kp          *string  `json:"kp"`
}

func (e planetaryEntry) time() (time.Time, bool) {
	tag := e.TimeTag
	if tag == "" {
		tag = e.TimeTagAlt
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, tag); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FetchPlanetary returns the latest planetary K reading with the high
// blocks of the trailing 12 hours at or above threshold.
func (s *SWPCClient) FetchPlanetary(ctx context.Context, threshold float64) (*models.PlanetaryK, *Payload, error) {
	body, result, err := httputil.Get(ctx, s.client, s.planetaryURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch planetary k: %w", err)
	}
	payload := newPayload(models.SourceSWPCPlanetary, "json/planetary_k_index_1m", body, result)

	p, err := ParsePlanetary(body, threshold, s.clock.Now().UTC())
	if err != nil {
		return nil, payload, err
	}
	result.RecordCount = len(p.HighBlocks) + 1
	return p, payload, nil
}

// ParsePlanetary decodes planetary_k_index_1m.json. The last entry is the
// latest reading; the effective Kp of an entry is the larger of its
// observed and estimated values.
func ParsePlanetary(body []byte, threshold float64, now time.Time) (*models.PlanetaryK, error) {
	var entries []planetaryEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal planetary k: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("planetary k: no entries")
	}

	last := entries[len(entries)-1]
	p := &models.PlanetaryK{
		KpIndex:     nullFloat(last.KpIndex),
		EstimatedKp: nullFloat(last.EstimatedKp),
	}
	if at, ok := last.time(); ok {
		p.ObservedAt = at
	}
	if last.Kp != nil {
		p.Flag = sql.NullString{String: *last.Kp, Valid: true}
	}
	if !p.KpIndex.Valid && !p.EstimatedKp.Valid {
		return nil, fmt.Errorf("planetary k: latest entry has no kp")
	}

	for _, e := range entries {
		at, ok := e.time()
		if !ok || now.Sub(at) > planetaryLookback || at.After(now) {
			continue
		}
		effective, ok := maxPresent(e.KpIndex, e.EstimatedKp)
		if !ok || effective < threshold {
			continue
		}
		kind := "estimated"
		if e.KpIndex != nil && *e.KpIndex == effective {
			kind = "observed"
		}
		p.HighBlocks = append(p.HighBlocks, models.HighBlock{
			Time: at,
			Kp:   math.Round(effective*100) / 100,
			Kind: kind,
		})
	}
	sort.SliceStable(p.HighBlocks, func(i, j int) bool {
		return p.HighBlocks[i].Time.Before(p.HighBlocks[j].Time)
	})
	return p, nil
}

func maxPresent(a, b *float64) (float64, bool) {
	switch {
	case a != nil && b != nil:
		return math.Max(*a, *b), true
	case a != nil:
		return *a, true
	case b != nil:
		return *b, true
	}
	return 0, false
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// FetchHemiPower returns the most recent hemispheric power row.
func (s *SWPCClient) FetchHemiPower(ctx context.Context) (*models.HemiPower, *Payload, error) {
	body, result, err := httputil.Get(ctx, s.client, s.hemiURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch hemi power: %w", err)
	}
	payload := newPayload(models.SourceSWPCHemi, "text/aurora-nowcast-hemi-power", body, result)

	h, err := ParseHemiPower(string(body))
	if err != nil {
		return nil, payload, err
	}
	result.RecordCount = 1
	return h, payload, nil
}

// ParseHemiPower reads the last data row of aurora-nowcast-hemi-power.txt:
//
//	2025-01-02_06:05  2025-01-02_06:35  31  24
func ParseHemiPower(text string) (*models.HemiPower, error) {
	var latest *models.HemiPower
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		north, err1 := strconv.ParseFloat(fields[2], 64)
		south, err2 := strconv.ParseFloat(fields[3], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		h := &models.HemiPower{NorthGW: north, SouthGW: south, TotalGW: math.Max(north, south)}
		if t, err := time.Parse(hemiTimeLayout, fields[0]); err == nil {
			h.ObservedAt = t
		}
		if t, err := time.Parse(hemiTimeLayout, fields[1]); err == nil {
			h.ForecastAt = t
		}
		latest = h
	}
	if latest == nil {
		return nil, fmt.Errorf("hemi power: no data rows")
	}
	return latest, nil
}
