package api

import (
	"time"

	"github.com/lox/aurorawatch/internal/forecast"
	"github.com/lox/aurorawatch/internal/models"
	"github.com/lox/aurorawatch/internal/store"
)

type LocationView struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	Timezone       string     `json:"timezone"`
	KpThreshold    float64    `json:"kp_threshold"`
	Active         bool       `json:"active"`
	LastCombinedID string     `json:"last_combined_id,omitempty"`
	LastAlertAt    *time.Time `json:"last_alert_at,omitempty"`
}

func locationView(l models.Location) LocationView {
	v := LocationView{
		ID:             l.ID,
		Name:           l.Name,
		Latitude:       l.Latitude,
		Longitude:      l.Longitude,
		Timezone:       l.TimezoneName,
		KpThreshold:    l.KpThreshold,
		Active:         l.Active,
		LastCombinedID: l.LastCombinedID.String,
	}
	if l.LastAlertAt.Valid {
		at := l.LastAlertAt.Time
		v.LastAlertAt = &at
	}
	return v
}

type DetectionView struct {
	Date       string    `json:"date"`
	UTBlock    string    `json:"ut_block"`
	Kp         float64   `json:"kp"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Cloud      *float64  `json:"cloud,omitempty"`
	Visibility int       `json:"visibility"`
}

type BuildView struct {
	Location       string          `json:"location"`
	Threshold      float64         `json:"threshold"`
	WindowID       string          `json:"window_id"`
	Signature      string          `json:"signature"`
	CombinedID     string          `json:"combined_id"`
	Detections     []DetectionView `json:"detections"`
	ForecastLines  []string        `json:"forecast_lines"`
	Recommendation []string        `json:"recommendation,omitempty"`
	UpcomingDays   []string        `json:"upcoming_days,omitempty"`
	SourcesLine    string          `json:"sources_line,omitempty"`
	Text           string          `json:"text"`
	Sources        map[string]bool `json:"sources"`
	ComputedAt     time.Time       `json:"computed_at"`
}

func buildView(b *forecast.AlertBuild, health models.SourceHealth, loc *time.Location) BuildView {
	v := BuildView{
		Location:       b.Config.LocationName,
		Threshold:      b.Config.KpThreshold,
		WindowID:       b.WindowID,
		Signature:      b.Signature,
		CombinedID:     b.CombinedID,
		Detections:     make([]DetectionView, 0, len(b.Detections)),
		ForecastLines:  b.ForecastLines,
		Recommendation: b.Recommendations,
		UpcomingDays:   b.UpcomingDays,
		SourcesLine:    b.SourcesLine,
		Text:           b.Text(loc),
		Sources:        health.Sources,
		ComputedAt:     b.ComputedAt,
	}
	for _, d := range b.Detections {
		dv := DetectionView{
			Date:       d.LocalDateLabel,
			UTBlock:    d.UTBlock,
			Kp:         d.Kp,
			Start:      d.Start,
			End:        d.End,
			Visibility: d.Visibility,
		}
		if d.CloudAvg.Valid {
			c := d.CloudAvg.Float64
			dv.Cloud = &c
		}
		v.Detections = append(v.Detections, dv)
	}
	return v
}

type SeriesView struct {
	Location     string                 `json:"location"`
	Kp           float64                `json:"kp"`
	Ovation      *int64                 `json:"ovation,omitempty"`
	ThirdParty   *int64                 `json:"third_party,omitempty"`
	CloudNow     *float64               `json:"cloud_now,omitempty"`
	CloudTonight *float64               `json:"cloud_tonight,omitempty"`
	Planetary    string                 `json:"planetary,omitempty"`
	Points       []forecast.SeriesPoint `json:"points"`
}

func seriesView(name string, s *forecast.Series) SeriesView {
	v := SeriesView{Location: name, Kp: s.Kp, Planetary: s.PlanetaryLine, Points: s.Points}
	if s.Ovation.Valid {
		v.Ovation = &s.Ovation.Int64
	}
	if s.ThirdParty.Valid {
		v.ThirdParty = &s.ThirdParty.Int64
	}
	if s.CloudNow.Valid {
		v.CloudNow = &s.CloudNow.Float64
	}
	if s.CloudTonight.Valid {
		v.CloudTonight = &s.CloudTonight.Float64
	}
	return v
}

type KpRecordView struct {
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
	Kp         float64   `json:"kp"`
	Status     string    `json:"status,omitempty"`
}

type DailyKpView struct {
	Date  string  `json:"date"`
	Kp    float64 `json:"kp"`
	Count int     `json:"count"`
}

type FetchView struct {
	ID          int64     `json:"id"`
	LocationID  int64     `json:"location_id,omitempty"`
	Source      string    `json:"source"`
	Endpoint    string    `json:"endpoint"`
	FetchedAt   time.Time `json:"fetched_at"`
	HTTPStatus  int       `json:"http_status,omitempty"`
	Bytes       int       `json:"bytes"`
	Records     int       `json:"records"`
	ParseErrors int       `json:"parse_errors,omitempty"`
	Note        string    `json:"note,omitempty"`
	Error       string    `json:"error,omitempty"`
	Body        string    `json:"body,omitempty"`
}

func fetchView(r store.FetchRecord) FetchView {
	return FetchView{
		ID:          r.ID,
		LocationID:  r.LocationID,
		Source:      r.Source,
		Endpoint:    r.Endpoint,
		FetchedAt:   r.FetchedAt,
		HTTPStatus:  r.HTTPStatus,
		Bytes:       r.Bytes,
		Records:     r.Records,
		ParseErrors: r.ParseErrors,
		Note:        r.Note,
		Error:       r.Error,
		Body:        string(r.Body),
	}
}

type SourceFetchView struct {
	Source      string     `json:"source"`
	Calls       int        `json:"calls"`
	Failures    int        `json:"failures"`
	Records     int        `json:"records"`
	ParseErrors int        `json:"parse_errors"`
	LastOK      *time.Time `json:"last_ok,omitempty"`
}

func sourceFetchView(st store.SourceFetchStats) SourceFetchView {
	v := SourceFetchView{
		Source:      st.Source,
		Calls:       st.Calls,
		Failures:    st.Failures,
		Records:     st.Records,
		ParseErrors: st.ParseErrors,
	}
	if !st.LastOK.IsZero() {
		at := st.LastOK
		v.LastOK = &at
	}
	return v
}

type PayloadUsageView struct {
	Count           int            `json:"count"`
	CompressedBytes int64          `json:"compressed_bytes"`
	RawBytes        int64          `json:"raw_bytes"`
	BySource        map[string]int `json:"by_source,omitempty"`
	Newest          *time.Time     `json:"newest,omitempty"`
}

type EscalationView struct {
	ID         int64     `json:"id"`
	LocationID int64     `json:"location_id"`
	Token      string    `json:"token"`
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
	Kp         float64   `json:"kp"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func escalationView(e models.Escalation) EscalationView {
	return EscalationView{
		ID:         e.ID,
		LocationID: e.LocationID,
		Token:      e.Token,
		Source:     e.Source,
		ObservedAt: e.ObservedAt,
		Kp:         e.Kp,
		Message:    e.Message,
		CreatedAt:  e.CreatedAt,
	}
}
