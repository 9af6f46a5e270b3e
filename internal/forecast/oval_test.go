package forecast

import (
	"math"
	"testing"
)

func TestBoundaryLatitude(t *testing.T) {
	tests := []struct {
		name string
		kp   float64
		want float64
	}{
		{"quiet", 0, 80},
		{"storm", 9, 51},
		{"below range clamps", -2, 80},
		{"above range clamps", 12, 51},
		{"interpolated", 6.5, 56.5},
		{"table point", 5, 61},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BoundaryLatitude(tt.kp)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("BoundaryLatitude(%v) = %v, want %v", tt.kp, got, tt.want)
			}
		})
	}
}

func TestBoundaryLatitude_Monotonic(t *testing.T) {
	prev := BoundaryLatitude(0)
	for kp := 0.25; kp <= 9; kp += 0.25 {
		got := BoundaryLatitude(kp)
		if got > prev {
			t.Errorf("BoundaryLatitude(%v) = %v, rose above %v", kp, got, prev)
		}
		prev = got
	}
}

func TestLatitudeFactor(t *testing.T) {
	tests := []struct {
		name     string
		kp       float64
		latitude float64
		want     float64
	}{
		{"inside oval", 9, 65, 1},
		{"southern hemisphere inside oval", 9, -65, 1},
		{"on boundary", 5, 61, 1},
		{"equatorward", 5, 45.5, math.Exp(-15.5 / 6)},
		{"far equatorward floors", 0, 0, 0.05},
		{"nan kp", math.NaN(), 10, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LatitudeFactor(tt.kp, tt.latitude)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("LatitudeFactor(%v, %v) = %v, want %v", tt.kp, tt.latitude, got, tt.want)
			}
		})
	}
}

func TestViewlineHint(t *testing.T) {
	tests := []struct {
		kp       float64
		latitude float64
		want     string
	}{
		{9, 65, "VL: favorable"},
		{7, 53, "VL: near edge"},
		{5, 45.5, "VL: equatorward"},
	}

	for _, tt := range tests {
		if got := ViewlineHint(tt.kp, tt.latitude); got != tt.want {
			t.Errorf("ViewlineHint(%v, %v) = %q, want %q", tt.kp, tt.latitude, got, tt.want)
		}
	}
}
