package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/lox/aurorawatch/internal/httputil"
	"github.com/lox/aurorawatch/internal/models"
)

const DefaultNOAAForecastURL = "https://services.swpc.noaa.gov/text/3-day-forecast.txt"

// NOAAClient fetches the SWPC 3-day forecast text product.
type NOAAClient struct {
	client *http.Client
	url    string
}

func NewNOAAClient(url string) *NOAAClient {
	if url == "" {
		url = DefaultNOAAForecastURL
	}
	return &NOAAClient{client: httputil.NewClient(), url: url}
}

// FetchForecastText returns the product text unparsed; the engine owns
// table parsing.
func (n *NOAAClient) FetchForecastText(ctx context.Context) (string, *Payload, error) {
	body, result, err := httputil.Get(ctx, n.client, n.url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("fetch noaa forecast: %w", err)
	}
	payload := newPayload(models.SourceNOAAForecast, "text/3-day-forecast", body, result)
	text := string(body)
	if strings.TrimSpace(text) == "" {
		return "", payload, fmt.Errorf("fetch noaa forecast: empty body")
	}
	if strings.Contains(text, "NOAA Kp index breakdown") {
		result.RecordCount = 1
	}
	return text, payload, nil
}
