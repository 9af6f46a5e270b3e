package forecast

import (
	"strings"
	"time"
)

// Text renders the full alert as plain text with markdown emphasis.
func (b *AlertBuild) Text(loc *time.Location) string {
	var sb strings.Builder
	section := func(title string, lines ...string) {
		var kept []string
		for _, l := range lines {
			if l != "" {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		if title != "" {
			sb.WriteString("**" + title + "**\n")
		}
		for _, l := range kept {
			sb.WriteString(l + "\n")
		}
	}

	header := "Aurora watch for " + b.Config.LocationName + " (Kp ≥ " + FormatKp(b.Config.KpThreshold) + ")"
	if len(b.Detections) == 0 {
		section(header, "No 3-hour blocks at or above the threshold in the NOAA forecast.")
	} else {
		section(header, b.GroupLines(loc)...)
	}
	section("Recommendation", b.Recommendations...)
	section("Upcoming days", b.UpcomingDays...)
	section("Real-time", append(append([]string{b.GFZLatestLine, b.PlanetaryLine}, b.HemiLines...), b.SourcesLine)...)
	section("GFZ blocks", b.GFZSummaryLines...)
	section("Conditions", append([]string{b.SnapshotTonightLine, b.SnapshotConditions}, b.SnapshotHourLines...)...)
	section("", b.ThirdPartySummary, b.OvationLine, b.CloudLine)
	section("NOAA 3-day forecast", b.ForecastLines...)
	section("", "Data: "+b.GFZSourceNote+"; "+b.SWPCSourceNote)
	return strings.TrimRight(sb.String(), "\n")
}

// EscalationText is the short message sent when new real-time tokens
// appear.
func (b *AlertBuild) EscalationText(added []string, loc *time.Location) string {
	lines := []string{"**" + EscalationHeader(b.Config.KpThreshold) + "** for " + b.Config.LocationName}
	for _, l := range DescribeEscalations(added, loc) {
		lines = append(lines, "• "+l)
	}
	if b.SourcesLine != "" {
		lines = append(lines, b.SourcesLine)
	}
	if len(b.Detections) > 0 {
		lines = append(lines, "", "Forecast windows:")
		lines = append(lines, b.GroupLines(loc)...)
	}
	return strings.Join(lines, "\n")
}
