package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lox/aurorawatch/internal/httputil"
	"github.com/lox/aurorawatch/internal/models"
)

const DefaultOpenMeteoURL = "https://api.open-meteo.com/v1/forecast"

// OpenMeteoClient fetches hourly cloud cover, the primary cloud provider.
type OpenMeteoClient struct {
	client  *http.Client
	baseURL string
}

func NewOpenMeteoClient(baseURL string) *OpenMeteoClient {
	if baseURL == "" {
		baseURL = DefaultOpenMeteoURL
	}
	return &OpenMeteoClient{client: httputil.NewClient(), baseURL: baseURL}
}

type openMeteoResponse struct {
	Hourly struct {
		Time       []string   `json:"time"`
		CloudCover []*float64 `json:"cloudcover"`
	} `json:"hourly"`
}

// FetchHourly returns three days of hourly cloud cover in UTC.
func (o *OpenMeteoClient) FetchHourly(ctx context.Context, lat, lon float64) ([]models.CloudSample, *Payload, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("hourly", "cloudcover")
	q.Set("timezone", "UTC")
	q.Set("forecast_days", "3")

	body, result, err := httputil.Get(ctx, o.client, o.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch open-meteo: %w", err)
	}
	payload := newPayload(models.SourceCloudCover, "v1/forecast", body, result)

	samples, parseErrors, err := ParseOpenMeteo(body)
	if err != nil {
		return nil, payload, err
	}
	result.RecordCount = len(samples)
	result.ParseErrors = parseErrors
	return samples, payload, nil
}

// ParseOpenMeteo decodes the hourly time and cloudcover arrays.
func ParseOpenMeteo(body []byte) ([]models.CloudSample, int, error) {
	var data openMeteoResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, 0, fmt.Errorf("unmarshal open-meteo: %w", err)
	}

	var samples []models.CloudSample
	var parseErrors int
	for i, ts := range data.Hourly.Time {
		if i >= len(data.Hourly.CloudCover) || data.Hourly.CloudCover[i] == nil {
			parseErrors++
			continue
		}
		at, err := time.Parse("2006-01-02T15:04", ts)
		if err != nil {
			parseErrors++
			continue
		}
		samples = append(samples, models.CloudSample{Time: at, Cover: *data.Hourly.CloudCover[i]})
	}
	if len(samples) == 0 {
		return nil, parseErrors, fmt.Errorf("open-meteo: no cloud samples")
	}
	return samples, parseErrors, nil
}
