package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"

	"github.com/lox/aurorawatch/internal/httputil"
	"github.com/lox/aurorawatch/internal/jsonfind"
	"github.com/lox/aurorawatch/internal/models"
)

const (
	DefaultMAFURL       = "https://www.jrustonapps.com/app-apis/aurora/get-data-v2.php"
	DefaultMAFUserAgent = "My Aurora Forecast/1 CFNetwork/3860.200.71 Darwin/25.1.0"
)

var (
	mafProbabilityKeys = []string{"chance", "probability", "visibility", "aurora_probability"}
	mafKpKeys          = []string{"currentkp", "kp", "kp_index", "kp current", "kp_current"}
	mafCloudKeys       = []string{"cloud_cover", "clouds", "cloud"}
)

// MAFClient queries the My Aurora Forecast app backend.
type MAFClient struct {
	client    *http.Client
	url       string
	userAgent string
	appUserID string
	clock     clockwork.Clock
}

func NewMAFClient(url, userAgent, appUserID string, clock clockwork.Clock) *MAFClient {
	if url == "" {
		url = DefaultMAFURL
	}
	if userAgent == "" {
		userAgent = DefaultMAFUserAgent
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MAFClient{
		client:    httputil.NewClient(),
		url:       url,
		userAgent: userAgent,
		appUserID: appUserID,
		clock:     clock,
	}
}

// Fetch posts the observer location and extracts Kp, chance and cloud.
func (m *MAFClient) Fetch(ctx context.Context, lat, lon float64, timezone string) (*models.ThirdPartyForecast, *Payload, error) {
	form := url.Values{}
	form.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	form.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	form.Set("timezone", timezone)
	encoded := form.Encode()

	body, result, err := httputil.Do(ctx, m.client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", m.userAgent)
		req.Header.Set("App-Request-Time", strconv.FormatInt(m.clock.Now().Unix(), 10))
		if m.appUserID != "" {
			req.Header.Set("App-User-ID", m.appUserID)
		}
		return req, nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch maf: %w", err)
	}
	payload := newPayload(models.SourceMAF, "get-data-v2", body, result)

	tp, err := ParseMAF(body)
	if err != nil {
		return nil, payload, err
	}
	result.RecordCount = 1
	return tp, payload, nil
}

// ParseMAF extracts the first matching values from an arbitrarily nested
// response. Bodies wrapped in non-JSON text are cut to the outermost
// braces first.
func ParseMAF(body []byte) (*models.ThirdPartyForecast, error) {
	if !gjson.ValidBytes(body) {
		start := bytes.IndexByte(body, '{')
		end := bytes.LastIndexByte(body, '}')
		if start < 0 || end <= start || !gjson.ValidBytes(body[start:end+1]) {
			return nil, fmt.Errorf("maf: response is not json")
		}
		body = body[start : end+1]
	}
	root := gjson.ParseBytes(body)

	tp := &models.ThirdPartyForecast{}
	if v, ok := lookupNumber(root, mafKpKeys...); ok {
		tp.Kp = sql.NullFloat64{Float64: v, Valid: true}
	}
	if v, ok := lookupNumber(root, mafProbabilityKeys...); ok {
		tp.Probability = sql.NullInt64{Int64: int64(math.RoundToEven(v)), Valid: true}
	}
	if v, ok := lookupNumber(root, mafCloudKeys...); ok {
		tp.CloudCover = sql.NullFloat64{Float64: v, Valid: true}
	}
	if !tp.Kp.Valid && !tp.Probability.Valid && !tp.CloudCover.Valid {
		return nil, fmt.Errorf("maf: no recognised fields")
	}
	return tp, nil
}

// lookupNumber accepts numeric values and numeric strings such as "45%".
func lookupNumber(root gjson.Result, keys ...string) (float64, bool) {
	if v, ok := jsonfind.Number(root, keys...); ok {
		return v, true
	}
	if s, ok := jsonfind.String(root, keys...); ok {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}
