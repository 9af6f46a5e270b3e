package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/lox/aurorawatch/internal/httputil"
	"github.com/lox/aurorawatch/internal/models"
)

const DefaultOvationURL = "https://services.swpc.noaa.gov/json/ovation_aurora_latest.json"

// OvationClient fetches the OVATION aurora probability grid and reads the
// cell nearest an observer.
type OvationClient struct {
	client *http.Client
	url    string
}

func NewOvationClient(url string) *OvationClient {
	if url == "" {
		url = DefaultOvationURL
	}
	return &OvationClient{client: httputil.NewClient(), url: url}
}

// FetchProbability returns the nearest-cell probability for lat/lon.
func (o *OvationClient) FetchProbability(ctx context.Context, lat, lon float64) (sql.NullInt64, *Payload, error) {
	body, result, err := httputil.Get(ctx, o.client, o.url, nil)
	if err != nil {
		return sql.NullInt64{}, nil, fmt.Errorf("fetch ovation: %w", err)
	}
	payload := newPayload(models.SourceOvation, "json/ovation_aurora_latest", body, result)

	p, ok := ParseOvation(body, lat, lon)
	if !ok {
		return sql.NullInt64{}, payload, fmt.Errorf("ovation: no usable grid points")
	}
	result.RecordCount = 1
	return sql.NullInt64{Int64: int64(p), Valid: true}, payload, nil
}

type gridPoint struct {
	lat, lon, p float64
}

// nearest tracks the closest grid point to an observer. Longitude
// differences are halved below 60 degrees where meridians converge less.
type nearest struct {
	lat, lon float64
	best     float64
	p        float64
	found    bool
}

func (n *nearest) offer(pt gridPoint) {
	dlat := pt.lat - n.lat
	dlon := math.Mod(pt.lon-n.lon+540, 360) - 180
	if math.Abs(n.lat) < 60 {
		dlon *= 0.5
	}
	d := dlat*dlat + dlon*dlon
	if !n.found || d < n.best {
		n.best, n.p, n.found = d, pt.p, true
	}
}

// ParseOvation accepts the three grid shapes SWPC has published: GeoJSON
// features with a probability property, a coordinates array of
// [lon, lat, p] triplets, or parallel latitude/longitude/probability
// arrays. The result is rounded and clamped to 0..100.
func ParseOvation(body []byte, lat, lon float64) (int, bool) {
	if !gjson.ValidBytes(body) {
		return 0, false
	}
	root := gjson.ParseBytes(body)
	n := &nearest{lat: lat, lon: lon}

	for _, shape := range []func(gjson.Result, *nearest){ovationFeatures, ovationTriplets, ovationArrays} {
		shape(root, n)
		if n.found {
			return int(clampFloat(math.RoundToEven(n.p), 0, 100)), true
		}
	}
	return 0, false
}

func ovationFeatures(root gjson.Result, n *nearest) {
	root.Get("features").ForEach(func(_, f gjson.Result) bool {
		coords := f.Get("geometry.coordinates").Array()
		if len(coords) < 2 {
			return true
		}
		p := f.Get("properties.probability")
		if !p.Exists() {
			p = f.Get("properties.value")
		}
		if p.Type != gjson.Number {
			return true
		}
		n.offer(gridPoint{lon: coords[0].Float(), lat: coords[1].Float(), p: p.Float()})
		return true
	})
}

func ovationTriplets(root gjson.Result, n *nearest) {
	var walk func(v gjson.Result)
	walk = func(v gjson.Result) {
		if !v.IsArray() {
			return
		}
		items := v.Array()
		if len(items) == 3 && items[0].Type == gjson.Number && items[1].Type == gjson.Number && items[2].Type == gjson.Number {
			n.offer(gridPoint{lon: items[0].Float(), lat: items[1].Float(), p: items[2].Float()})
			return
		}
		for _, item := range items {
			walk(item)
		}
	}
	walk(root.Get("coordinates"))
}

func ovationArrays(root gjson.Result, n *nearest) {
	lats := root.Get("latitude").Array()
	lons := root.Get("longitude").Array()
	probs := root.Get("probability").Array()
	count := min(len(lats), len(lons), len(probs))
	for i := 0; i < count; i++ {
		if probs[i].Type != gjson.Number {
			continue
		}
		n.offer(gridPoint{lat: lats[i].Float(), lon: lons[i].Float(), p: probs[i].Float()})
	}
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
