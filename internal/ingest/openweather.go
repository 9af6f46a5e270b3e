package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/lox/aurorawatch/internal/cache"
	"github.com/lox/aurorawatch/internal/httputil"
	"github.com/lox/aurorawatch/internal/models"
)

const (
	ProviderOpenWeather = "openweather"

	DefaultOpenWeatherURL         = "https://api.openweathermap.org"
	DefaultOpenWeatherMaxCalls    = 900
	DefaultOpenWeatherMinInterval = 30 * time.Minute
	DefaultOpenWeatherCacheTTL    = 2 * time.Hour
)

var (
	ErrNoAPIKey        = errors.New("openweather: no api key configured")
	ErrBudgetExhausted = errors.New("openweather: call budget exhausted")
)

// CallBudget persists provider call counts so daily caps survive
// restarts.
type CallBudget interface {
	ProviderUsage(provider string, since time.Time) (int, sql.NullTime, error)
	RecordProviderCall(provider string, at time.Time) error
}

// OpenWeatherConfig controls the secondary cloud provider's budget.
type OpenWeatherConfig struct {
	APIKey         string
	BaseURL        string
	MaxCallsPerDay int
	MinInterval    time.Duration
}

// OpenWeatherClient is the secondary cloud provider. Calls are rate
// limited, capped per UTC day and cached per rounded coordinate.
type OpenWeatherClient struct {
	cfg     OpenWeatherConfig
	client  *http.Client
	limiter *rate.Limiter
	budget  CallBudget
	cache   *cache.Cache
	clock   clockwork.Clock
}

func NewOpenWeatherClient(cfg OpenWeatherConfig, budget CallBudget, c *cache.Cache, clock clockwork.Clock) *OpenWeatherClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenWeatherURL
	}
	if cfg.MaxCallsPerDay <= 0 {
		cfg.MaxCallsPerDay = DefaultOpenWeatherMaxCalls
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = DefaultOpenWeatherMinInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &OpenWeatherClient{
		cfg:     cfg,
		client:  httputil.NewClient(),
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		budget:  budget,
		cache:   c,
		clock:   clock,
	}
}

// SetLimiter replaces the request limiter.
func (o *OpenWeatherClient) SetLimiter(l *rate.Limiter) {
	o.limiter = l
}

func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("%s:%.2f,%.2f", ProviderOpenWeather, lat, lon)
}

// FetchHourly returns hourly cloud cover for lat/lon. A fresh cache entry
// is served without a call; when the budget is exhausted a stale entry is
// served if there is one.
func (o *OpenWeatherClient) FetchHourly(ctx context.Context, lat, lon float64) ([]models.CloudSample, *Payload, error) {
	key := cacheKey(lat, lon)
	if o.cache != nil {
		if data, ok := o.cache.Get(key); ok {
			if samples, err := decodeCachedSamples(data); err == nil {
				return samples, nil, nil
			}
		}
	}

	if o.cfg.APIKey == "" {
		return o.stale(key, ErrNoAPIKey)
	}

	now := o.clock.Now().UTC()
	if o.budget != nil {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		calls, last, err := o.budget.ProviderUsage(ProviderOpenWeather, dayStart)
		if err != nil {
			return nil, nil, fmt.Errorf("openweather usage: %w", err)
		}
		if calls >= o.cfg.MaxCallsPerDay {
			return o.stale(key, ErrBudgetExhausted)
		}
		if last.Valid && now.Sub(last.Time) < o.cfg.MinInterval {
			return o.stale(key, ErrBudgetExhausted)
		}
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("openweather limiter: %w", err)
	}

	samples, payload, err := o.fetchOneCall(ctx, lat, lon)
	if err != nil {
		log.Printf("openweather: one call failed, trying 2.5 forecast: %v", err)
		samples, payload, err = o.fetchForecast(ctx, lat, lon)
		if err != nil {
			return nil, payload, err
		}
	}

	if o.budget != nil {
		if err := o.budget.RecordProviderCall(ProviderOpenWeather, now); err != nil {
			log.Printf("openweather: record call: %v", err)
		}
	}
	if o.cache != nil {
		if data, err := json.Marshal(samples); err == nil {
			if err := o.cache.Set(key, data); err != nil {
				log.Printf("openweather: %v", err)
			}
		}
	}
	return samples, payload, nil
}

func (o *OpenWeatherClient) stale(key string, cause error) ([]models.CloudSample, *Payload, error) {
	if o.cache != nil {
		if data, ok := o.cache.GetStale(key); ok {
			if samples, err := decodeCachedSamples(data); err == nil {
				return samples, nil, nil
			}
		}
	}
	return nil, nil, cause
}

func decodeCachedSamples(data []byte) ([]models.CloudSample, error) {
	var samples []models.CloudSample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errors.New("empty cache entry")
	}
	return samples, nil
}

func (o *OpenWeatherClient) query(lat, lon float64) url.Values {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("appid", o.cfg.APIKey)
	q.Set("units", "metric")
	return q
}

func (o *OpenWeatherClient) fetchOneCall(ctx context.Context, lat, lon float64) ([]models.CloudSample, *Payload, error) {
	q := o.query(lat, lon)
	q.Set("exclude", "minutely,daily,alerts,current")

	body, result, err := httputil.Get(ctx, o.client, o.cfg.BaseURL+"/data/3.0/onecall?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch onecall: %w", err)
	}
	payload := newPayload(ProviderOpenWeather, "data/3.0/onecall", body, result)

	samples := parseCloudList(gjson.GetBytes(body, "hourly"), "clouds")
	if len(samples) == 0 {
		return nil, payload, errors.New("onecall: no hourly clouds")
	}
	result.RecordCount = len(samples)
	return samples, payload, nil
}

func (o *OpenWeatherClient) fetchForecast(ctx context.Context, lat, lon float64) ([]models.CloudSample, *Payload, error) {
	body, result, err := httputil.Get(ctx, o.client, o.cfg.BaseURL+"/data/2.5/forecast?"+o.query(lat, lon).Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch forecast: %w", err)
	}
	payload := newPayload(ProviderOpenWeather, "data/2.5/forecast", body, result)

	samples := parseCloudList(gjson.GetBytes(body, "list"), "clouds.all")
	if len(samples) == 0 {
		return nil, payload, errors.New("forecast: no cloud entries")
	}
	result.RecordCount = len(samples)
	return samples, payload, nil
}

// parseCloudList reads entries with a unix "dt" and a cloud percentage at
// path.
func parseCloudList(list gjson.Result, path string) []models.CloudSample {
	var samples []models.CloudSample
	list.ForEach(func(_, item gjson.Result) bool {
		dt := item.Get("dt")
		c := item.Get(path)
		if dt.Type != gjson.Number || c.Type != gjson.Number {
			return true
		}
		samples = append(samples, models.CloudSample{Time: time.Unix(dt.Int(), 0).UTC(), Cover: c.Float()})
		return true
	})
	return samples
}
