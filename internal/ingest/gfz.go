package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/aurorawatch/internal/httputil"
	"github.com/lox/aurorawatch/internal/models"
)

const (
	DefaultGFZBaseURL   = "https://kp.gfz.de/app/json/"
	DefaultGFZUserAgent = "aurorawatch/1.0 (+https://github.com/lox/aurorawatch)"

	gfzTimeLayout   = "2006-01-02T15:04:05Z"
	gfzMinHoursBack = 3
	gfzMaxHoursBack = 240
)

// GFZClient fetches the recent Kp series from the GFZ JSON API, falling
// back to the FTP nowcast file when configured.
type GFZClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	status    string
	clock     clockwork.Clock
	fallback  *GFZFTPClient
}

func NewGFZClient(baseURL, userAgent string, clock clockwork.Clock) *GFZClient {
	if baseURL == "" {
		baseURL = DefaultGFZBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultGFZUserAgent
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &GFZClient{
		client:    httputil.NewClient(),
		baseURL:   baseURL,
		userAgent: userAgent,
		clock:     clock,
	}
}

// SetStatus restricts results to one quality level ("def", "pre" or "now").
func (g *GFZClient) SetStatus(status string) {
	g.status = status
}

// SetFallback configures the FTP client used when the JSON API fails.
func (g *GFZClient) SetFallback(f *GFZFTPClient) {
	g.fallback = f
}

type gfzResponse struct {
	Datetime []string   `json:"datetime"`
	Kp       []*float64 `json:"Kp"`
	Status   []string   `json:"status"`
	Meta     struct {
		Source  string `json:"source"`
		License string `json:"license"`
	} `json:"meta"`
}

// GFZHoursBack clamps a lookback to [3, 240] hours in whole 3-hour blocks.
func GFZHoursBack(hours int) int {
	if hours < gfzMinHoursBack {
		hours = gfzMinHoursBack
	}
	if hours > gfzMaxHoursBack {
		hours = gfzMaxHoursBack
	}
	return hours - hours%3
}

// FetchRecent returns the GFZ Kp records of the last hoursBack hours.
func (g *GFZClient) FetchRecent(ctx context.Context, hoursBack int) (*models.GFZSeries, *Payload, error) {
	hoursBack = GFZHoursBack(hoursBack)
	end := g.clock.Now().UTC()
	start := end.Add(-time.Duration(hoursBack) * time.Hour)

	series, payload, err := g.fetchJSON(ctx, start, end)
	if err == nil {
		return series, payload, nil
	}
	if g.fallback == nil {
		return nil, payload, err
	}

	log.Printf("gfz: json api failed, trying ftp: %v", err)
	series, ftpPayload, ftpErr := g.fallback.FetchSince(ctx, start)
	if ftpErr != nil {
		return nil, payload, fmt.Errorf("%w (ftp fallback: %v)", err, ftpErr)
	}
	return series, ftpPayload, nil
}

func (g *GFZClient) fetchJSON(ctx context.Context, start, end time.Time) (*models.GFZSeries, *Payload, error) {
	q := url.Values{}
	q.Set("start", start.Format(gfzTimeLayout))
	q.Set("end", end.Format(gfzTimeLayout))
	q.Set("index", "Kp")
	if g.status != "" {
		q.Set("status", g.status)
	}

	body, result, err := httputil.Get(ctx, g.client, g.baseURL+"?"+q.Encode(), userAgent(g.userAgent))
	if err != nil {
		return nil, nil, fmt.Errorf("fetch gfz: %w", err)
	}
	payload := newPayload(models.SourceGFZ, "app/json", body, result)

	series, parseErrors, err := ParseGFZ(body)
	if err != nil {
		return nil, payload, err
	}
	result.RecordCount = len(series.Records)
	if parseErrors > 0 {
		result.ParseErrors = parseErrors
		result.ParseError = fmt.Sprintf("%d unparseable gfz rows", parseErrors)
	}
	return series, payload, nil
}

// ParseGFZ decodes the GFZ JSON payload into an ascending series. Rows
// with a null Kp or a bad timestamp are skipped and counted.
func ParseGFZ(body []byte) (*models.GFZSeries, int, error) {
	var data gfzResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, 0, fmt.Errorf("unmarshal gfz: %w", err)
	}

	series := &models.GFZSeries{SourceNote: gfzSourceNote(data.Meta.Source, data.Meta.License)}
	var parseErrors int
	for i, ts := range data.Datetime {
		if i >= len(data.Kp) || data.Kp[i] == nil {
			parseErrors++
			continue
		}
		at, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			parseErrors++
			continue
		}
		rec := models.KpRecord{Source: models.SourceGFZ, ObservedAt: at.UTC(), Kp: *data.Kp[i]}
		if i < len(data.Status) {
			rec.Status = data.Status[i]
		}
		series.Records = append(series.Records, rec)
	}
	sortRecords(series.Records)
	if len(series.Records) == 0 {
		return nil, parseErrors, fmt.Errorf("gfz: no records")
	}
	return series, parseErrors, nil
}

func gfzSourceNote(source, license string) string {
	switch {
	case source != "" && license != "":
		return source + " (" + license + ")"
	case source != "":
		return source
	default:
		return models.DefaultGFZSourceNote
	}
}
