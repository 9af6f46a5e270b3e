package forecast

import (
	"database/sql"
	"math"
	"strings"
)

const (
	OvationFloor    = 0.25
	ThirdPartyFloor = 0.5

	hemiPowerScaleGW = 60.0
)

// VisibilityInputs are the signals combined into a visibility score.
// Invalid Null values mean the source was unavailable and contribute a
// neutral weight.
type VisibilityInputs struct {
	Kp          float64
	Latitude    float64
	CloudAvg    sql.NullFloat64
	Ovation     sql.NullInt64
	SkyDarkness string
	ThirdParty  sql.NullInt64
	GFZKp       sql.NullFloat64
	SWPCKp      sql.NullFloat64
	HemiPowerGW sql.NullFloat64
}

// EffectiveKp is the largest of the forecast, GFZ and SWPC values.
func (in VisibilityInputs) EffectiveKp() float64 {
	kp := in.Kp
	if in.GFZKp.Valid {
		kp = math.Max(kp, in.GFZKp.Float64)
	}
	if in.SWPCKp.Valid {
		kp = math.Max(kp, in.SWPCKp.Float64)
	}
	return kp
}

// VisibilityPercent combines every signal into a 0-100 score. The two
// probability-style sources are soft weights with a floor so that neither
// can zero the score on its own.
func VisibilityPercent(in VisibilityInputs) int {
	effective := in.EffectiveKp()

	kpFactor := clamp(effective/9, 0, 1)
	cloudFactor := 1.0
	if in.CloudAvg.Valid {
		cloudFactor = clamp(1-in.CloudAvg.Float64/100, 0, 1)
	}
	darkFactor := DarknessFactor(in.SkyDarkness)
	latFactor := LatitudeFactor(effective, in.Latitude)
	hemiWeight := HemiWeight(in.HemiPowerGW)

	base := kpFactor * cloudFactor * darkFactor * latFactor * hemiWeight
	score := base * SoftWeight(in.Ovation, OvationFloor) * SoftWeight(in.ThirdParty, ThirdPartyFloor)

	return clampPercent(int(math.RoundToEven(100 * score)))
}

// DarknessFactor reads a free-form sky darkness description. Anything
// that is not day or twilight, including an empty string, counts as dark.
func DarknessFactor(sky string) float64 {
	key := strings.ToLower(strings.TrimSpace(sky))
	switch {
	case key == "":
		return 1
	case strings.Contains(key, "day"):
		return 0.25
	case strings.Contains(key, "twilight"):
		return 0.6
	default:
		return 1
	}
}

// HemiWeight maps hemispheric power onto [0.3, 1].
func HemiWeight(gw sql.NullFloat64) float64 {
	if !gw.Valid || math.IsNaN(gw.Float64) {
		return 1
	}
	norm := clamp(gw.Float64/hemiPowerScaleGW, 0, 1.2)
	return 0.3 + 0.7*math.Min(1, norm)
}

// SoftWeight maps a percentage onto [floor, 1]. An absent value is 1.
func SoftWeight(pct sql.NullInt64, floor float64) float64 {
	if !pct.Valid {
		return 1
	}
	x := clamp(float64(pct.Int64)/100, 0, 1)
	return floor + (1-floor)*x
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
