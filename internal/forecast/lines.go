package forecast

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lox/aurorawatch/internal/models"
)

const (
	gfzSummaryRecent   = 12
	gfzSummaryFallback = 4
	snapshotHourLines  = 3
	recommendHorizon   = 18 * time.Hour
)

func clockLabel(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Jan 2 15:04 MST")
}

// forecastLines renders every table row, each day's local block start
// and value. Values at or above threshold are emphasised.
func forecastLines(table *KpTable, threshold float64, loc *time.Location) []string {
	lines := []string{fmt.Sprintf("Dates: %s | %s | %s",
		table.Days[0].Format("Mon Jan 2"),
		table.Days[1].Format("Mon Jan 2"),
		table.Days[2].Format("Mon Jan 2"))}

	for _, block := range table.Blocks {
		cells := make([]string, tableDays)
		for col := 0; col < tableDays; col++ {
			start, _ := blockWindow(table.Days[col], block)
			val := fmt.Sprintf("%.2f", block.Values[col])
			if block.Values[col] >= threshold {
				val = "**" + val + "**"
			}
			cells[col] = start.In(loc).Format("15:04") + " " + val
		}
		lines = append(lines, block.Label()+"UT: "+strings.Join(cells, " | "))
	}
	return lines
}

// DetectionLine is the bullet shown for one detection.
func DetectionLine(d Detection, loc *time.Location) string {
	return fmt.Sprintf("• %s UT → %s - %s • KP %.2f • cloud %s • visibility %d%%",
		d.UTBlock, d.Start.In(loc).Format("15:04"), d.End.In(loc).Format("15:04 MST"),
		d.Kp, d.CloudDisplay(), d.Visibility)
}

func gfzLatestLine(series *models.GFZSeries, loc *time.Location) string {
	latest := series.Latest()
	if latest == nil {
		return ""
	}
	return fmt.Sprintf("Latest GFZ Kp: %.2f at %s (%s)", latest.Kp, clockLabel(latest.ObservedAt, loc), latest.StatusLabel())
}

// gfzSummaryLines lists the recent GFZ blocks at or above threshold. When
// none qualify the last few blocks are shown for context.
func gfzSummaryLines(series *models.GFZSeries, threshold float64, loc *time.Location) []string {
	if series == nil || len(series.Records) == 0 {
		return nil
	}
	recent := series.Records
	if len(recent) > gfzSummaryRecent {
		recent = recent[len(recent)-gfzSummaryRecent:]
	}

	line := func(r models.KpRecord) string {
		return fmt.Sprintf("• %s • Kp %.2f (%s)", clockLabel(r.ObservedAt, loc), r.Kp, r.StatusLabel())
	}

	var lines []string
	for _, r := range recent {
		if r.Kp >= threshold {
			lines = append(lines, line(r))
		}
	}
	if len(lines) > 0 {
		return lines
	}
	tail := recent
	if len(tail) > gfzSummaryFallback {
		tail = tail[len(tail)-gfzSummaryFallback:]
	}
	for _, r := range tail {
		lines = append(lines, line(r))
	}
	return lines
}

func planetaryLine(p *models.PlanetaryK, loc *time.Location) string {
	if p == nil {
		return ""
	}
	var parts []string
	if p.KpIndex.Valid {
		parts = append(parts, fmt.Sprintf("Planetary Kp %.2f", p.KpIndex.Float64))
	}
	if p.EstimatedKp.Valid && (!p.KpIndex.Valid || p.EstimatedKp.Float64 != p.KpIndex.Float64) {
		parts = append(parts, fmt.Sprintf("Estimated %.2f", p.EstimatedKp.Float64))
	}
	label := "Planetary Kp"
	if len(parts) > 0 {
		label = strings.Join(parts, " | ")
	}
	if p.ObservedAt.IsZero() {
		return label
	}
	return label + " at " + clockLabel(p.ObservedAt, loc)
}

func hemiLines(h *models.HemiPower, loc *time.Location) []string {
	if h == nil {
		return nil
	}
	first := fmt.Sprintf("Hemispheric power %.1f GW", h.TotalGW)
	if !h.ObservedAt.IsZero() {
		first += " at " + clockLabel(h.ObservedAt, loc)
	}
	return []string{first, fmt.Sprintf("North %.1f GW • South %.1f GW", h.NorthGW, h.SouthGW)}
}

// sourcesLine merges the core real-time signals into one line.
func sourcesLine(gfz *models.GFZSeries, swpc sql.NullFloat64, hemi *models.HemiPower, ovation, maf sql.NullInt64) string {
	var parts []string
	if latest := gfz.Latest(); latest != nil {
		piece := fmt.Sprintf("GFZ %.2f", latest.Kp)
		switch latest.StatusLabel() {
		case "Definitive":
			piece += " (Def)"
		case "Preliminary":
			piece += " (Prelim)"
		}
		parts = append(parts, piece)
	}
	if swpc.Valid {
		parts = append(parts, fmt.Sprintf("NOAA %.2f", swpc.Float64))
	}
	if hemi != nil {
		parts = append(parts, fmt.Sprintf("Hemi %.0f GW", hemi.TotalGW))
	}
	if ovation.Valid {
		parts = append(parts, fmt.Sprintf("Ovation %d%%", ovation.Int64))
	}
	if maf.Valid {
		parts = append(parts, fmt.Sprintf("MAF %d%%", maf.Int64))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Sources: " + strings.Join(parts, " • ")
}

func thirdPartySummary(tp *models.ThirdPartyForecast) string {
	if tp == nil {
		return ""
	}
	var parts []string
	if tp.Kp.Valid {
		parts = append(parts, fmt.Sprintf("KP %.2f", tp.Kp.Float64))
	}
	if tp.Probability.Valid {
		parts = append(parts, fmt.Sprintf("chance %d%%", tp.Probability.Int64))
	}
	if tp.CloudCover.Valid {
		parts = append(parts, fmt.Sprintf("cloud %.0f%%", tp.CloudCover.Float64))
	}
	if len(parts) == 0 {
		return ""
	}
	return "My Aurora Forecast: " + strings.Join(parts, " • ")
}

func orNA(v sql.NullFloat64, format string) string {
	if !v.Valid {
		return "n/a"
	}
	return fmt.Sprintf(format, v.Float64)
}

func orUnknown(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// snapshotLines renders the tonight, conditions and next-hours lines.
func snapshotLines(s *models.Snapshot, loc *time.Location) (tonight, conditions string, hours []string) {
	if s == nil {
		return "", "", nil
	}
	status := s.TonightStatusText
	if status == "" {
		status = humanizeStatus(s.TonightStatus)
	}
	tonight = fmt.Sprintf("Tonight: %s • %s%% • Best: %s", status, orNA(s.TonightProbability, "%.0f"), orUnknown(s.BestHour, "n/a"))
	if s.UpdatedAt.Valid {
		tonight += " • updated " + clockLabel(s.UpdatedAt.Time, loc)
	}
	conditions = fmt.Sprintf("Conditions: KP %s • cloud %s%% • Sky: %s",
		orNA(s.KpIndex, "%.2f"), orNA(s.CloudCover, "%.0f"), orUnknown(s.SkyDarkness, "n/a"))

	for i, h := range s.Hours {
		if i == snapshotHourLines {
			break
		}
		at := orUnknown(h.DisplayTime, "?")
		if h.Time.Valid {
			at = h.Time.Time.In(loc).Format("15:04")
		}
		hours = append(hours, fmt.Sprintf("• %s: KP %s • base %s%% • adj +%s%%",
			at, orNA(h.Kp, "%.2f"), orNA(h.ProbBase, "%.0f"), orNA(h.ProbAdj, "%.1f")))
	}
	return tonight, conditions, hours
}

func humanizeStatus(key string) string {
	if key == "" {
		return "n/a"
	}
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func cloudLine(available bool, location string) string {
	if available {
		return "Cloud data: retrieved for " + location
	}
	return "Cloud data: unavailable for " + location
}

func ovationLine(ovation sql.NullInt64) string {
	if !ovation.Valid {
		return ""
	}
	return fmt.Sprintf("NOAA Ovation (now): %d%% at your location", ovation.Int64)
}

type weighted struct {
	pct    sql.NullInt64
	weight float64
}

// combinePercents is the weighted mean of the present percentages.
func combinePercents(pairs ...weighted) (int, bool) {
	var total, wsum float64
	for _, p := range pairs {
		if !p.pct.Valid {
			continue
		}
		total += clamp(float64(p.pct.Int64), 0, 100) * p.weight
		wsum += p.weight
	}
	if wsum <= 0 {
		return 0, false
	}
	return int(math.RoundToEven(total / wsum)), true
}

func opportunityLabel(pct int) string {
	switch {
	case pct >= 60:
		return "Good opportunity"
	case pct >= 30:
		return "Maybe"
	default:
		return "Unlikely"
	}
}

func snapshotTonightProb(s *models.Snapshot) sql.NullInt64 {
	if s == nil || !s.TonightProbability.Valid {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(math.RoundToEven(s.TonightProbability.Float64)), Valid: true}
}

// recommendationLines picks the best detection starting in the next 18
// hours and blends it with the other probability sources.
func recommendationLines(detections []Detection, now time.Time, snap *models.Snapshot, ovation, maf sql.NullInt64, gfzLatest sql.NullFloat64, loc *time.Location) []string {
	var best *Detection
	horizon := now.Add(recommendHorizon)
	for i := range detections {
		d := &detections[i]
		if d.Start.Before(now) || d.Start.After(horizon) {
			continue
		}
		if best == nil || d.Visibility > best.Visibility {
			best = d
		}
	}

	afm := snapshotTonightProb(snap)
	if best == nil {
		combined, ok := combinePercents(weighted{afm, 0.6}, weighted{ovation, 0.4})
		if !ok {
			return []string{"Tonight: Insufficient data for a recommendation."}
		}
		return []string{fmt.Sprintf("Tonight: %s (%d%%). No high Kp windows detected in the immediate horizon.", opportunityLabel(combined), combined)}
	}

	combined, _ := combinePercents(
		weighted{sql.NullInt64{Int64: int64(best.Visibility), Valid: true}, 0.5},
		weighted{afm, 0.25},
		weighted{ovation, 0.15},
		weighted{maf, 0.10},
	)

	var extras []string
	if snap != nil && snap.BestHour != "" {
		extras = append(extras, "AFM best: "+snap.BestHour)
	}
	if gfzLatest.Valid {
		extras = append(extras, fmt.Sprintf("GFZ Kp %.1f", gfzLatest.Float64))
	}
	if ovation.Valid {
		extras = append(extras, fmt.Sprintf("Ovation %d%%", ovation.Int64))
	}
	if maf.Valid {
		extras = append(extras, fmt.Sprintf("MAF %d%%", maf.Int64))
	}

	line := fmt.Sprintf("Tonight: %s (%d%%). Best window %s UT (%s-%s) • KP %.2f • cloud %s",
		opportunityLabel(combined), combined, best.UTBlock,
		best.Start.In(loc).Format("15:04"), best.End.In(loc).Format("15:04 MST"),
		best.Kp, best.CloudDisplay())
	if len(extras) > 0 {
		line += " • " + strings.Join(extras, " • ")
	}
	return []string{line}
}

// upcomingDaysLines shows the best detection per forecast day with a
// viewline hint.
func upcomingDaysLines(detections []Detection, latitude float64, snap *models.Snapshot, ovation sql.NullInt64, hemi *models.HemiPower, gfzLatest sql.NullFloat64, loc *time.Location) []string {
	var days []time.Time
	best := make(map[time.Time]Detection)
	for _, d := range detections {
		cur, ok := best[d.Day]
		if !ok {
			days = append(days, d.Day)
			best[d.Day] = d
			continue
		}
		if d.Visibility > cur.Visibility {
			best[d.Day] = d
		}
	}

	var lines []string
	for _, day := range days {
		d := best[day]
		extras := []string{ViewlineHint(d.Kp, latitude)}
		if ovation.Valid {
			extras = append(extras, fmt.Sprintf("Ovation %d%%", ovation.Int64))
		}
		if hemi != nil {
			extras = append(extras, fmt.Sprintf("Hemi %.0f GW", hemi.TotalGW))
		}
		if gfzLatest.Valid {
			extras = append(extras, fmt.Sprintf("GFZ %.1f", gfzLatest.Float64))
		}
		if snap != nil && snap.SkyDarkness != "" {
			extras = append(extras, "Sky "+snap.SkyDarkness)
		}
		lines = append(lines, fmt.Sprintf("%s: %s-%s • visibility %d%% • KP %.2f • cloud %s • %s",
			day.Format("Jan 02"), d.Start.In(loc).Format("15:04"), d.End.In(loc).Format("15:04 MST"),
			d.Visibility, d.Kp, d.CloudDisplay(), strings.Join(extras, " • ")))
	}
	return lines
}
