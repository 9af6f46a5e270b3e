package ingest

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/aurorawatch/internal/models"
)

func TestCollector_Collect(t *testing.T) {
	_, srv := newFeeds(t)
	clock := clockwork.NewFakeClockAt(testNow)

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	sources := testSources(srv, clock)
	sources.Ovation = NewOvationClient(slow.URL)

	col := NewCollector(sources, 200*time.Millisecond, clock).Collect(context.Background(), models.EngineConfig{
		KpThreshold: 6.5, Latitude: 45.5152, Longitude: -122.6784, TimezoneName: "America/Los_Angeles",
	})

	assert.Equal(t, testNow, col.Data.FetchedAt)
	assert.Contains(t, col.Data.ForecastText, "NOAA Kp index breakdown")
	require.NotNil(t, col.Data.GFZ)
	assert.Len(t, col.Data.GFZ.Records, 2)
	require.NotNil(t, col.Data.Planetary)
	require.NotNil(t, col.Data.Hemi)
	assert.Equal(t, 31.0, col.Data.Hemi.TotalGW)

	assert.False(t, col.Data.Ovation.Valid)
	assert.Contains(t, col.Errors, models.SourceOvation)

	assert.True(t, col.Health.RequiredOK())
	assert.False(t, col.Health.Sources[models.SourceOvation])
	assert.False(t, col.Health.Sources[models.SourceCloudCover])
	assert.Len(t, col.Payloads, 4)
}

func TestCollector_CancelledContext(t *testing.T) {
	_, srv := newFeeds(t)
	clock := clockwork.NewFakeClockAt(testNow)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	col := NewCollector(testSources(srv, clock), time.Second, clock).Collect(ctx, models.EngineConfig{KpThreshold: 6.5})
	assert.False(t, col.Health.RequiredOK())
	assert.Len(t, col.Errors, 4)
	assert.Empty(t, col.Payloads)
}

func TestCollector_OpenWeatherOnlyWhenOpenMeteoEmpty(t *testing.T) {
	tests := []struct {
		name      string
		openMeteo string
		wantCalls int
		wantOK    bool
	}{
		{"open-meteo has samples", `{"hourly": {"time": ["2025-01-01T13:00"], "cloudcover": [25]}}`, 0, true},
		{"open-meteo empty", `{"hourly": {"time": [], "cloudcover": []}}`, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meteo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.openMeteo))
			}))
			defer meteo.Close()
			owm, hits := openWeatherServer(t, true)

			clock := clockwork.NewFakeClockAt(testNow)
			ow, _ := newTestOpenWeather(t, owm, "secret", 10, &memoryBudget{})
			col := NewCollector(Sources{
				Clouds:      NewOpenMeteoClient(meteo.URL),
				OpenWeather: ow,
			}, time.Second, clock).Collect(context.Background(), models.EngineConfig{Latitude: 45.5152, Longitude: -122.6784})

			assert.Equal(t, tt.wantCalls, *hits)
			assert.Equal(t, tt.wantOK, col.Health.Sources[models.SourceCloudCover])
			if tt.wantCalls == 0 {
				assert.Empty(t, col.Data.SecondaryClouds)
			} else {
				assert.Len(t, col.Data.SecondaryClouds, 2)
			}
		})
	}
}

func TestHealthOf(t *testing.T) {
	at := testNow
	tests := []struct {
		name   string
		data   models.SourceData
		source string
		want   bool
	}{
		{"forecast without table", models.SourceData{ForecastText: "no table here"}, models.SourceNOAAForecast, false},
		{"forecast with table", models.SourceData{ForecastText: "NOAA Kp index breakdown Jan 01-Jan 03 2025"}, models.SourceNOAAForecast, true},
		{"empty gfz series", models.SourceData{GFZ: &models.GFZSeries{}}, models.SourceGFZ, false},
		{"secondary clouds only", models.SourceData{SecondaryClouds: []models.CloudSample{{at, 10}}}, models.SourceCloudCover, true},
		{"ovation valid", models.SourceData{Ovation: sql.NullInt64{Int64: 0, Valid: true}}, models.SourceOvation, true},
		{"no snapshot", models.SourceData{}, models.SourceSnapshot, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := HealthOf(tt.data, at)
			assert.Equal(t, tt.want, h.Sources[tt.source])
			assert.Equal(t, at, h.CheckedAt)
		})
	}
}
