package forecast

import "math"

// ovalBoundary maps Kp to the estimated equatorward edge of the auroral
// oval in degrees of latitude. These are heuristic constants; change them
// as a set.
var ovalBoundary = [...]struct {
	kp  float64
	lat float64
}{
	{0, 80},
	{1, 75},
	{2, 70},
	{3, 67},
	{4, 64},
	{5, 61},
	{6, 58},
	{7, 55},
	{8, 53},
	{9, 51},
}

const (
	latitudeDecayDegrees = 6.0
	latitudeFloor        = 0.05
)

// BoundaryLatitude interpolates the oval edge for kp, clamped to [0, 9].
func BoundaryLatitude(kp float64) float64 {
	kp = clamp(kp, 0, 9)
	for i := 0; i < len(ovalBoundary)-1; i++ {
		lo, hi := ovalBoundary[i], ovalBoundary[i+1]
		if kp >= lo.kp && kp <= hi.kp {
			frac := (kp - lo.kp) / (hi.kp - lo.kp)
			return lo.lat + (hi.lat-lo.lat)*frac
		}
	}
	return ovalBoundary[len(ovalBoundary)-1].lat
}

// LatitudeFactor is 1 for observers at or poleward of the oval edge and
// decays exponentially towards a 5% floor for observers equatorward of it.
func LatitudeFactor(kp, latitude float64) float64 {
	if math.IsNaN(kp) {
		return 1
	}
	gap := BoundaryLatitude(kp) - math.Abs(latitude)
	if gap <= 0 {
		return 1
	}
	return math.Max(latitudeFloor, math.Exp(-gap/latitudeDecayDegrees))
}

// ViewlineHint labels how close the observer is to the oval at kp.
func ViewlineHint(kp, latitude float64) string {
	f := LatitudeFactor(kp, latitude)
	switch {
	case f >= 0.8:
		return "VL: favorable"
	case f >= 0.5:
		return "VL: near edge"
	default:
		return "VL: equatorward"
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
