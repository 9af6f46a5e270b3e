package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lox/aurorawatch/internal/httputil"
	"github.com/lox/aurorawatch/internal/models"
)

const (
	DefaultSnapshotURL   = "https://auroraforecast.me/api/seoSnapshot"
	snapshotReferer      = "https://auroraforecast.me/"
	snapshotBrowserAgent = "Mozilla/5.0"
)

// SnapshotClient fetches the auroraforecast.me conditions snapshot.
type SnapshotClient struct {
	client *http.Client
	url    string
}

func NewSnapshotClient(url string) *SnapshotClient {
	if url == "" {
		url = DefaultSnapshotURL
	}
	return &SnapshotClient{client: httputil.NewClient(), url: url}
}

func (s *SnapshotClient) Fetch(ctx context.Context, lat, lon float64) (*models.Snapshot, *Payload, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))

	header := http.Header{
		"User-Agent": {snapshotBrowserAgent},
		"Referer":    {snapshotReferer},
	}
	body, result, err := httputil.Get(ctx, s.client, s.url+"?"+q.Encode(), header)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	payload := newPayload(models.SourceSnapshot, "api/seoSnapshot", body, result)

	snap, err := ParseSnapshot(body)
	if err != nil {
		return nil, payload, err
	}
	result.RecordCount = 1 + len(snap.Hours)
	return snap, payload, nil
}

// ParseSnapshot decodes the snapshot. A payload without "tonight" is
// treated as unavailable.
func ParseSnapshot(body []byte) (*models.Snapshot, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("snapshot: invalid json")
	}
	root := gjson.ParseBytes(body)
	tonight := root.Get("tonight")
	if !tonight.Exists() {
		return nil, fmt.Errorf("snapshot: missing tonight")
	}

	snap := &models.Snapshot{
		TonightStatus:      tonight.Get("status").String(),
		TonightProbability: gjsonFloat(tonight.Get("probability")),
		BestHour:           tonight.Get("bestHour").String(),
		UpdatedAt:          gjsonTime(tonight.Get("updatedAt")),
		KpIndex:            gjsonFloat(root.Get("conditions.kpIndex")),
		CloudCover:         gjsonFloat(root.Get("conditions.cloudCover")),
		SkyDarkness:        root.Get("conditions.skyDarkness").String(),
	}
	if snap.TonightStatus != "" {
		snap.TonightStatusText = root.Get("ui.statusTexts." + gjson.Escape(snap.TonightStatus)).String()
	}

	root.Get("h12").ForEach(func(_, h gjson.Result) bool {
		display := h.Get("displayTime24").String()
		if display == "" {
			display = h.Get("displayTime12").String()
		}
		snap.Hours = append(snap.Hours, models.SnapshotHour{
			Time:        gjsonTime(h.Get("time")),
			DisplayTime: display,
			Kp:          gjsonFloat(h.Get("kp")),
			ProbBase:    gjsonFloat(h.Get("probBase")),
			ProbAdj:     gjsonFloat(h.Get("probAdj")),
		})
		return true
	})
	return snap, nil
}

func gjsonFloat(v gjson.Result) sql.NullFloat64 {
	switch v.Type {
	case gjson.Number:
		return sql.NullFloat64{Float64: v.Float(), Valid: true}
	case gjson.String:
		if f, err := strconv.ParseFloat(v.Str, 64); err == nil {
			return sql.NullFloat64{Float64: f, Valid: true}
		}
	}
	return sql.NullFloat64{}
}

// gjsonTime accepts RFC 3339 strings and unix seconds or milliseconds.
func gjsonTime(v gjson.Result) sql.NullTime {
	switch v.Type {
	case gjson.String:
		if t, err := time.Parse(time.RFC3339, v.Str); err == nil {
			return sql.NullTime{Time: t.UTC(), Valid: true}
		}
	case gjson.Number:
		n := v.Int()
		if n > 1e12 {
			return sql.NullTime{Time: time.UnixMilli(n).UTC(), Valid: true}
		}
		if n > 0 {
			return sql.NullTime{Time: time.Unix(n, 0).UTC(), Valid: true}
		}
	}
	return sql.NullTime{}
}
