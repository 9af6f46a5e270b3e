// Package config holds the command line and environment settings shared
// by the aurorawatch commands.
package config

import (
	"fmt"
	"time"

	"github.com/lox/aurorawatch/internal/ingest"
	"github.com/lox/aurorawatch/internal/models"
)

// Config is embedded into the CLI. Every flag can also be set from the
// environment or a .env file.
type Config struct {
	DB       string `name:"db" env:"AURORA_DB" default:"data/aurorawatch.db" help:"Path to SQLite database."`
	CacheDir string `name:"cache-dir" env:"AURORA_CACHE_DIR" default:"data/cache" help:"Directory for cached provider responses."`

	Observer Observer `embed:"" group:"Observer"`
	Sources  Sources  `embed:"" group:"Sources"`
}

// Observer is the default location used when the store has none and by
// the one-shot commands.
type Observer struct {
	KpThreshold  float64 `name:"kp-threshold" env:"KP_THRESHOLD" default:"6.5" help:"Kp alert threshold."`
	Latitude     float64 `name:"latitude" env:"LATITUDE" default:"45.5152" help:"Observer latitude."`
	Longitude    float64 `name:"longitude" env:"LONGITUDE" default:"-122.6784" help:"Observer longitude."`
	LocationName string  `name:"location-name" env:"LOCATION_NAME" default:"Portland, OR" help:"Label used in alerts."`
	Timezone     string  `name:"timezone" env:"TIMEZONE_NAME" default:"America/Los_Angeles" help:"IANA timezone for local times."`
}

func (o Observer) EngineConfig() models.EngineConfig {
	return models.EngineConfig{
		KpThreshold:  o.KpThreshold,
		Latitude:     o.Latitude,
		Longitude:    o.Longitude,
		LocationName: o.LocationName,
		TimezoneName: o.Timezone,
	}
}

// Validate rejects observers the engine could not be built for.
func (o Observer) Validate() error {
	if o.KpThreshold < 0 || o.KpThreshold > 9 {
		return fmt.Errorf("KP_THRESHOLD %v out of range 0-9", o.KpThreshold)
	}
	if o.Latitude < -90 || o.Latitude > 90 {
		return fmt.Errorf("LATITUDE %v out of range", o.Latitude)
	}
	if o.Longitude < -180 || o.Longitude > 180 {
		return fmt.Errorf("LONGITUDE %v out of range", o.Longitude)
	}
	if _, err := time.LoadLocation(o.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE_NAME: %w", err)
	}
	return nil
}

// Sources configures the upstream adapters.
type Sources struct {
	FetchTimeout time.Duration `name:"fetch-timeout" env:"FETCH_TIMEOUT" default:"25s" help:"Per-source fetch timeout."`

	GFZBaseURL     string `name:"gfz-json-base-url" env:"GFZ_JSON_BASE_URL" help:"GFZ Kp JSON API base URL."`
	GFZUserAgent   string `name:"gfz-user-agent" env:"GFZ_USER_AGENT" help:"User agent sent to GFZ."`
	GFZStatus      string `name:"gfz-status" env:"GFZ_STATUS" enum:"all,def,pre,now" default:"all" help:"Only use GFZ values of this quality (all, def, pre or now)."`
	GFZFTPFallback bool   `name:"gfz-ftp-fallback" env:"GFZ_FTP_FALLBACK" default:"true" negatable:"" help:"Fall back to the GFZ FTP nowcast file."`

	OpenWeatherAPIKey      string        `name:"openweather-api-key" env:"OPENWEATHER_API_KEY" help:"OpenWeather key for secondary cloud cover."`
	OpenWeatherMaxCalls    int           `name:"openweather-max-calls-per-day" env:"OPENWEATHER_MAX_CALLS_PER_DAY" default:"900" help:"Daily OpenWeather call cap."`
	OpenWeatherMinInterval time.Duration `name:"openweather-min-interval" env:"OPENWEATHER_MIN_INTERVAL" default:"30m" help:"Minimum time between OpenWeather calls."`
	OpenWeatherCacheTTL    time.Duration `name:"openweather-cache-ttl" env:"OPENWEATHER_CACHE_TTL" default:"2h" help:"How long cached OpenWeather responses stay fresh."`

	MAFAppUserID string `name:"maf-app-user-id" env:"MAF_APP_USER_ID" help:"App-User-ID header for My Aurora Forecast."`
	MAFUserAgent string `name:"maf-user-agent" env:"MAF_USER_AGENT" help:"User agent for My Aurora Forecast."`
}

// GFZStatusFilter is the status query value for GFZ, empty for all.
func (s Sources) GFZStatusFilter() string {
	if s.GFZStatus == "all" {
		return ""
	}
	return s.GFZStatus
}

func (s Sources) OpenWeather() ingest.OpenWeatherConfig {
	return ingest.OpenWeatherConfig{
		APIKey:         s.OpenWeatherAPIKey,
		MaxCallsPerDay: s.OpenWeatherMaxCalls,
		MinInterval:    s.OpenWeatherMinInterval,
	}
}

// Validate checks the durations and limits.
func (s Sources) Validate() error {
	if s.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if s.OpenWeatherMaxCalls <= 0 {
		return fmt.Errorf("OPENWEATHER_MAX_CALLS_PER_DAY must be positive")
	}
	if s.OpenWeatherMinInterval < 0 {
		return fmt.Errorf("OPENWEATHER_MIN_INTERVAL must not be negative")
	}
	if s.OpenWeatherCacheTTL <= 0 {
		return fmt.Errorf("OPENWEATHER_CACHE_TTL must be positive")
	}
	return nil
}

// Validate checks every group.
func (c Config) Validate() error {
	if c.DB == "" {
		return fmt.Errorf("AURORA_DB is required")
	}
	if err := c.Observer.Validate(); err != nil {
		return err
	}
	return c.Sources.Validate()
}
