package forecast

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lox/aurorawatch/internal/models"
)

const (
	TokenGFZ  = "GFZ"
	TokenSWPC = "SWPC"

	// signatureLookback bounds which real-time readings can enter a
	// detection signature.
	signatureLookback = 12 * time.Hour
	swpcBlock         = 3 * time.Hour
)

// GenericEscalation is used when tokens were added but none decode.
const GenericEscalation = "New real-time high Kp activity detected."

// WindowID identifies which issued forecast table was parsed. It changes
// with the table date range or the threshold, never with cell values.
func WindowID(first, last time.Time, threshold float64) string {
	return first.Format("2006-01-02") + "_to_" + last.Format("2006-01-02") + "_kp>=" + FormatKp(threshold)
}

// FormatKp renders v in its shortest form and always keeps a decimal
// point, so 7 becomes "7.0" and 7.33 stays "7.33".
func FormatKp(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") && !math.IsInf(v, 0) && !math.IsNaN(v) {
		s += ".0"
	}
	return s
}

// SignatureToken is a single real-time high Kp observation.
type SignatureToken struct {
	Source string
	Time   time.Time
	Kp     float64
}

func (t SignatureToken) String() string {
	return fmt.Sprintf("%s:%d:%s", t.Source, t.Time.Unix(), FormatKp(t.Kp))
}

func (t SignatureToken) key() string {
	return fmt.Sprintf("%s:%d", t.Source, t.Time.Unix())
}

// ParseToken decodes "SOURCE:unix_ts:kp".
func ParseToken(s string) (SignatureToken, bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" {
		return SignatureToken{}, false
	}
	ts, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return SignatureToken{}, false
	}
	kp, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return SignatureToken{}, false
	}
	return SignatureToken{Source: parts[0], Time: time.Unix(int64(ts), 0).UTC(), Kp: kp}, true
}

// GFZHighBlocks returns the GFZ 3-hour blocks at or above threshold inside
// the signature lookback, kp rounded to 3 decimals.
func GFZHighBlocks(series *models.GFZSeries, threshold float64, now time.Time) []models.HighBlock {
	if series == nil {
		return nil
	}
	cutoff := now.Add(-signatureLookback)
	var out []models.HighBlock
	for _, r := range series.Records {
		if r.ObservedAt.Before(cutoff) || r.ObservedAt.After(now) {
			continue
		}
		kp := roundTo(r.Kp, 3)
		if kp < threshold {
			continue
		}
		out = append(out, models.HighBlock{Time: r.ObservedAt, Kp: kp, Kind: r.StatusLabel()})
	}
	return out
}

// SWPCBlockMaxima collapses minute-resolution SWPC high blocks into one
// entry per 3-hour UT block holding the block maximum. This keeps the
// signature stable while a storm is in progress and only changes it when
// a new block crosses the threshold or the block maximum rises.
func SWPCBlockMaxima(blocks []models.HighBlock) []models.HighBlock {
	byStart := make(map[int64]models.HighBlock)
	var order []int64
	for _, b := range blocks {
		start := b.Time.UTC().Truncate(swpcBlock)
		key := start.Unix()
		cur, ok := byStart[key]
		if !ok {
			order = append(order, key)
			byStart[key] = models.HighBlock{Time: start, Kp: b.Kp, Kind: b.Kind}
			continue
		}
		if b.Kp > cur.Kp {
			byStart[key] = models.HighBlock{Time: start, Kp: b.Kp, Kind: b.Kind}
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]models.HighBlock, 0, len(order))
	for _, k := range order {
		out = append(out, byStart[k])
	}
	return out
}

// DetectionSignature builds the sorted, de-duplicated token set from the
// real-time sources. Forecast detections never contribute.
func DetectionSignature(gfz, swpc []models.HighBlock) string {
	var tokens []string
	for _, b := range gfz {
		tokens = append(tokens, SignatureToken{Source: TokenGFZ, Time: b.Time, Kp: b.Kp}.String())
	}
	for _, b := range swpc {
		tokens = append(tokens, SignatureToken{Source: TokenSWPC, Time: b.Time, Kp: b.Kp}.String())
	}
	return JoinSignature(tokens)
}

// JoinSignature sorts and de-duplicates tokens and joins them with "|".
func JoinSignature(tokens []string) string {
	set := make(map[string]bool, len(tokens))
	uniq := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" || set[t] {
			continue
		}
		set[t] = true
		uniq = append(uniq, t)
	}
	sort.Strings(uniq)
	return strings.Join(uniq, "|")
}

// SplitSignature returns the tokens of a signature.
func SplitSignature(sig string) []string {
	var out []string
	for _, t := range strings.Split(sig, "|") {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// CombinedID joins the window id and the detection signature.
func CombinedID(windowID, signature string) string {
	return windowID + "|" + signature
}

// SplitCombinedID is the inverse of CombinedID. Window ids never contain
// "|" so the first separator divides the two parts.
func SplitCombinedID(id string) (windowID, signature string) {
	windowID, signature, _ = strings.Cut(id, "|")
	return windowID, signature
}

// AddedTokens returns the tokens in next that are not in prev, sorted. A
// token is not added when prev already holds the same source and time at
// an equal or higher Kp, so a block whose peak ages out of the lookback
// does not read as new.
func AddedTokens(prev, next string) []string {
	old := make(map[string]bool)
	peak := make(map[string]float64)
	for _, t := range SplitSignature(prev) {
		old[t] = true
		if tok, ok := ParseToken(t); ok {
			key := tok.key()
			if kp, seen := peak[key]; !seen || tok.Kp > kp {
				peak[key] = tok.Kp
			}
		}
	}
	var added []string
	for _, t := range SplitSignature(next) {
		if old[t] {
			continue
		}
		if tok, ok := ParseToken(t); ok {
			if kp, seen := peak[tok.key()]; seen && tok.Kp <= kp {
				continue
			}
		}
		added = append(added, t)
	}
	sort.Strings(added)
	return added
}

// DescribeEscalations renders one line per decodable added token, or the
// generic line when none decode.
func DescribeEscalations(added []string, loc *time.Location) []string {
	var lines []string
	for _, raw := range added {
		tok, ok := ParseToken(raw)
		if !ok {
			continue
		}
		kp := raw[strings.LastIndex(raw, ":")+1:]
		at := tok.Time.In(loc).Format("Jan 2 15:04 MST")
		switch tok.Source {
		case TokenGFZ:
			lines = append(lines, fmt.Sprintf("GFZ Kp %s at %s", kp, at))
		case TokenSWPC:
			lines = append(lines, fmt.Sprintf("SWPC Planetary Kp %s in 3h block from %s", kp, at))
		}
	}
	if len(lines) == 0 {
		return []string{GenericEscalation}
	}
	return lines
}

// EscalationHeader is the first line of an escalation alert.
func EscalationHeader(threshold float64) string {
	return "New high Kp window(s) ≥ " + FormatKp(threshold) + " detected"
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
