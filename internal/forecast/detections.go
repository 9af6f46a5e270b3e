package forecast

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lox/aurorawatch/internal/models"
)

const cloudNearestWindow = 180 * time.Minute

// Detection is one forecast cell at or above the alert threshold.
type Detection struct {
	DayLabel       string
	Day            time.Time
	UTBlock        string // "HH-HH"
	StartHour      int
	Kp             float64
	Start          time.Time
	End            time.Time
	CloudAvg       sql.NullFloat64
	Visibility     int
	LocalDateLabel string
}

// CloudDisplay renders the window cloud cover or "N/A".
func (d Detection) CloudDisplay() string {
	if !d.CloudAvg.Valid {
		return "N/A"
	}
	return fmt.Sprintf("%.0f%%", d.CloudAvg.Float64)
}

// DetectionGroup is the detections sharing a local date label.
type DetectionGroup struct {
	Label      string
	Detections []Detection
}

// scoreContext is the part of the scorer input shared by every cell.
type scoreContext struct {
	latitude    float64
	ovation     sql.NullInt64
	skyDarkness string
	thirdParty  sql.NullInt64
	gfzKp       sql.NullFloat64
	swpcKp      sql.NullFloat64
	hemiPower   sql.NullFloat64
}

func (c scoreContext) inputs(kp float64, cloud sql.NullFloat64) VisibilityInputs {
	return VisibilityInputs{
		Kp:          kp,
		Latitude:    c.latitude,
		CloudAvg:    cloud,
		Ovation:     c.ovation,
		SkyDarkness: c.skyDarkness,
		ThirdParty:  c.thirdParty,
		GFZKp:       c.gfzKp,
		SWPCKp:      c.swpcKp,
		HemiPowerGW: c.hemiPower,
	}
}

// buildDetections walks the table and scores every cell with
// kp >= threshold. The result is sorted by (day, block start hour).
func buildDetections(table *KpTable, threshold float64, primary, secondary []models.CloudSample, sc scoreContext, loc *time.Location) []Detection {
	var out []Detection
	for _, block := range table.Blocks {
		for col := 0; col < tableDays; col++ {
			kp := block.Values[col]
			if kp < threshold {
				continue
			}
			day := table.Days[col]
			start, end := blockWindow(day, block)
			cloud := windowCloud(primary, secondary, start, end)

			out = append(out, Detection{
				DayLabel:       table.DayLabels[col],
				Day:            day,
				UTBlock:        block.Label(),
				StartHour:      block.StartHour,
				Kp:             kp,
				Start:          start,
				End:            end,
				CloudAvg:       cloud,
				Visibility:     VisibilityPercent(sc.inputs(kp, cloud)),
				LocalDateLabel: start.In(loc).Format("Mon Jan 2"),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].StartHour < out[j].StartHour
	})
	return out
}

// blockWindow resolves a UT block on day to UTC instants. A block whose
// end hour is not after its start hour ends on the following day.
func blockWindow(day time.Time, block KpBlock) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), block.StartHour, 0, 0, 0, time.UTC)
	end := time.Date(day.Year(), day.Month(), day.Day(), block.EndHour, 0, 0, 0, time.UTC)
	if block.EndHour <= block.StartHour {
		end = end.AddDate(0, 0, 1)
	}
	return start, end
}

// windowCloud averages cloud cover for [start, end). With no samples in
// the window it uses samples within 3 hours of start, then of end, then
// the secondary provider's in-window samples.
func windowCloud(primary, secondary []models.CloudSample, start, end time.Time) sql.NullFloat64 {
	if len(primary) == 0 {
		return sql.NullFloat64{}
	}
	if avg, ok := averageInWindow(primary, start, end); ok {
		return avg
	}
	if avg, ok := averageNear(primary, start); ok {
		return avg
	}
	if avg, ok := averageNear(primary, end); ok {
		return avg
	}
	if avg, ok := averageInWindow(secondary, start, end); ok {
		return avg
	}
	return sql.NullFloat64{}
}

func averageInWindow(samples []models.CloudSample, start, end time.Time) (sql.NullFloat64, bool) {
	var sum float64
	var n int
	for _, s := range samples {
		if !s.Time.Before(start) && s.Time.Before(end) {
			sum += s.Cover
			n++
		}
	}
	if n == 0 {
		return sql.NullFloat64{}, false
	}
	return sql.NullFloat64{Float64: sum / float64(n), Valid: true}, true
}

func averageNear(samples []models.CloudSample, at time.Time) (sql.NullFloat64, bool) {
	var sum float64
	var n int
	for _, s := range samples {
		d := s.Time.Sub(at)
		if d < 0 {
			d = -d
		}
		if d <= cloudNearestWindow {
			sum += s.Cover
			n++
		}
	}
	if n == 0 {
		return sql.NullFloat64{}, false
	}
	return sql.NullFloat64{Float64: sum / float64(n), Valid: true}, true
}

// groupDetections groups sorted detections by local date label, keeping
// the first-seen order of labels and the order within each group.
func groupDetections(detections []Detection) []DetectionGroup {
	var groups []DetectionGroup
	index := make(map[string]int)
	for _, d := range detections {
		i, ok := index[d.LocalDateLabel]
		if !ok {
			i = len(groups)
			index[d.LocalDateLabel] = i
			groups = append(groups, DetectionGroup{Label: d.LocalDateLabel})
		}
		groups[i].Detections = append(groups[i].Detections, d)
	}
	return groups
}
