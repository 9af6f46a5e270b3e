package forecast

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNoForecastData is returned when the 3-day forecast text has no
// usable Kp breakdown. Callers skip the cycle.
var ErrNoForecastData = errors.New("no Kp forecast data")

const (
	tableDays   = 3
	tableBlocks = 8
)

var (
	kpSectionStart = regexp.MustCompile(`(?i)NOAA\s+Kp\s+index\s+breakdown`)
	kpSectionEnd   = regexp.MustCompile(`Rationale:|B\. NOAA|C\. NOAA`)
	dayToken       = regexp.MustCompile(`(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+\d{1,2}`)
	dayHeaderLine  = regexp.MustCompile(`(?m)^\s*((?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+\d{1,2})\s+((?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+\d{1,2})\s+((?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+\d{1,2})\s*$`)
	issuedYear     = regexp.MustCompile(`:Issued:\s+(\d{4})(?:\s+([A-Z][a-z]{2}))?`)
	blockRow       = regexp.MustCompile(`(?m)^\s*(\d{2})-(\d{2})\s?UT\s+(.+)$`)
	stormLevel     = regexp.MustCompile(`\s*\(G\d+\)`)
	number         = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

var months = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// KpBlock is one 3-hour UT row of the forecast table.
type KpBlock struct {
	StartHour int
	EndHour   int
	Values    [tableDays]float64
}

// Label returns the block as "HH-HH".
func (b KpBlock) Label() string {
	return twoDigits(b.StartHour) + "-" + twoDigits(b.EndHour)
}

// KpTable is the parsed 3-day x 8-block Kp forecast.
type KpTable struct {
	DayLabels  [tableDays]string
	Days       [tableDays]time.Time // UTC midnight of each column
	IssuedYear int
	Blocks     [tableBlocks]KpBlock
}

// FirstDay and LastDay bound the forecast range.
func (t *KpTable) FirstDay() time.Time { return t.Days[0] }
func (t *KpTable) LastDay() time.Time  { return t.Days[tableDays-1] }

// ParseKpTable extracts the Kp breakdown from the SWPC 3-day forecast
// text. now supplies the year when the issued header is missing.
func ParseKpTable(text string, now time.Time) (*KpTable, error) {
	section, ok := kpSection(text)
	if !ok {
		return nil, ErrNoForecastData
	}

	labels, ok := dayHeaders(section)
	if !ok {
		return nil, ErrNoForecastData
	}

	year := now.UTC().Year()
	var issuedMonth time.Month
	if m := issuedYear.FindStringSubmatch(text); m != nil {
		if y, err := strconv.Atoi(m[1]); err == nil {
			year = y
		}
		issuedMonth = months[m[2]]
	}

	table := &KpTable{IssuedYear: year, DayLabels: labels}
	days, ok := resolveDays(labels, year, issuedMonth)
	if !ok {
		return nil, ErrNoForecastData
	}
	table.Days = days

	var usable []KpBlock
	for _, m := range blockRow.FindAllStringSubmatch(section, -1) {
		block, ok := parseBlockRow(m)
		if !ok {
			continue
		}
		usable = append(usable, block)
	}
	if len(usable) < tableBlocks {
		return nil, ErrNoForecastData
	}
	copy(table.Blocks[:], usable[:tableBlocks])

	return table, nil
}

func kpSection(text string) (string, bool) {
	loc := kpSectionStart.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	section := text[loc[0]:]
	if end := kpSectionEnd.FindStringIndex(section); end != nil {
		section = section[:end[0]]
	}
	return section, true
}

func dayHeaders(section string) ([tableDays]string, bool) {
	var labels [tableDays]string
	if m := dayHeaderLine.FindStringSubmatch(section); m != nil {
		for i := 0; i < tableDays; i++ {
			labels[i] = normalizeDay(m[i+1])
		}
		return labels, distinct(labels)
	}

	for _, line := range strings.Split(section, "\n") {
		found := dayToken.FindAllString(line, -1)
		if len(found) < tableDays {
			continue
		}
		for i := 0; i < tableDays; i++ {
			labels[i] = normalizeDay(found[i])
		}
		return labels, distinct(labels)
	}
	return labels, false
}

func normalizeDay(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func distinct(labels [tableDays]string) bool {
	seen := make(map[string]bool, tableDays)
	for _, l := range labels {
		seen[l] = true
	}
	return len(seen) == tableDays
}

// resolveDays turns "Mon DD" labels into UTC dates. A table issued at the
// end of December rolls January columns into the next year.
func resolveDays(labels [tableDays]string, year int, issuedMonth time.Month) ([tableDays]time.Time, bool) {
	var days [tableDays]time.Time
	for i, label := range labels {
		fields := strings.Fields(label)
		if len(fields) != 2 {
			return days, false
		}
		month, ok := months[fields[0]]
		if !ok {
			return days, false
		}
		day, err := strconv.Atoi(fields[1])
		if err != nil || day < 1 || day > 31 {
			return days, false
		}
		y := year
		switch {
		case i == 0 && issuedMonth == time.December && month == time.January:
			y = year + 1
		case i > 0 && month < days[0].Month():
			y = days[0].Year() + 1
		case i > 0:
			y = days[0].Year()
		}
		days[i] = time.Date(y, month, day, 0, 0, 0, 0, time.UTC)
	}
	return days, true
}

func parseBlockRow(m []string) (KpBlock, bool) {
	start, err := strconv.Atoi(m[1])
	if err != nil {
		return KpBlock{}, false
	}
	end, err := strconv.Atoi(m[2])
	if err != nil {
		return KpBlock{}, false
	}
	rest := stormLevel.ReplaceAllString(m[3], "")
	nums := number.FindAllString(rest, -1)
	if len(nums) < tableDays {
		return KpBlock{}, false
	}

	block := KpBlock{StartHour: start, EndHour: end}
	for i := 0; i < tableDays; i++ {
		v, err := strconv.ParseFloat(nums[i], 64)
		if err != nil {
			return KpBlock{}, false
		}
		block.Values[i] = v
	}
	return block, true
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
