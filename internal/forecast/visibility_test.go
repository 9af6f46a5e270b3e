package forecast

import (
	"database/sql"
	"math"
	"testing"
)

func cloud(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

func pct(v int64) sql.NullInt64 { return sql.NullInt64{Int64: v, Valid: true} }

func TestVisibilityPercent(t *testing.T) {
	tests := []struct {
		name string
		in   VisibilityInputs
		want int
	}{
		{"clear sky strong storm", VisibilityInputs{Kp: 9, Latitude: 65, CloudAvg: cloud(0)}, 100},
		{"half cloud", VisibilityInputs{Kp: 9, Latitude: 65, CloudAvg: cloud(50)}, 50},
		{"overcast", VisibilityInputs{Kp: 9, Latitude: 65, CloudAvg: cloud(100)}, 0},
		{"no cloud data is neutral", VisibilityInputs{Kp: 9, Latitude: 65}, 100},
		{"ovation zero floors", VisibilityInputs{Kp: 9, Latitude: 65, Ovation: pct(0)}, 25},
		{"third party zero floors", VisibilityInputs{Kp: 9, Latitude: 65, ThirdParty: pct(0)}, 50},
		{"both soft weights floored", VisibilityInputs{Kp: 9, Latitude: 65, Ovation: pct(0), ThirdParty: pct(0)}, 12},
		{"daylight", VisibilityInputs{Kp: 9, Latitude: 65, SkyDarkness: "Daylight"}, 25},
		{"twilight", VisibilityInputs{Kp: 9, Latitude: 65, SkyDarkness: "Nautical Twilight"}, 60},
		{"no hemi power", VisibilityInputs{Kp: 9, Latitude: 65, HemiPowerGW: cloud(0)}, 30},
		{"gfz lifts forecast kp", VisibilityInputs{Kp: 0, Latitude: 65, GFZKp: cloud(9)}, 100},
		{"swpc lifts forecast kp", VisibilityInputs{Kp: 0, Latitude: 65, SWPCKp: cloud(9)}, 100},
		{"quiet", VisibilityInputs{Kp: 0, Latitude: 45.5}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VisibilityPercent(tt.in)
			if got != tt.want {
				t.Errorf("VisibilityPercent() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestVisibilityPercent_Bounds(t *testing.T) {
	for kp := -3.0; kp <= 12; kp += 0.5 {
		for _, c := range []float64{-20, 0, 35, 100, 140} {
			in := VisibilityInputs{Kp: kp, Latitude: 45.5, CloudAvg: cloud(c), Ovation: pct(150), ThirdParty: pct(-10), HemiPowerGW: cloud(200)}
			got := VisibilityPercent(in)
			if got < 0 || got > 100 {
				t.Errorf("VisibilityPercent(kp=%v, cloud=%v) = %d, out of range", kp, c, got)
			}
		}
	}
}

func TestVisibilityPercent_MonotonicInKp(t *testing.T) {
	prev := -1
	for kp := 0.0; kp <= 9; kp += 0.5 {
		got := VisibilityPercent(VisibilityInputs{Kp: kp, Latitude: 45.5})
		if got < prev {
			t.Errorf("VisibilityPercent(kp=%v) = %d, below previous %d", kp, got, prev)
		}
		prev = got
	}
}

func TestVisibilityPercent_DecreasingInCloud(t *testing.T) {
	prev := 101
	for _, c := range []float64{0, 25, 50, 75, 100} {
		got := VisibilityPercent(VisibilityInputs{Kp: 9, Latitude: 65, CloudAvg: cloud(c)})
		if got >= prev {
			t.Errorf("VisibilityPercent(cloud=%v) = %d, not below %d", c, got, prev)
		}
		prev = got
	}
}

func TestDarknessFactor(t *testing.T) {
	tests := []struct {
		sky  string
		want float64
	}{
		{"", 1},
		{"Dark", 1},
		{"  DAYLIGHT ", 0.25},
		{"civil twilight", 0.6},
		{"astronomical night", 1},
	}

	for _, tt := range tests {
		if got := DarknessFactor(tt.sky); got != tt.want {
			t.Errorf("DarknessFactor(%q) = %v, want %v", tt.sky, got, tt.want)
		}
	}
}

func TestSoftWeight(t *testing.T) {
	tests := []struct {
		name  string
		pct   sql.NullInt64
		floor float64
		want  float64
	}{
		{"absent", sql.NullInt64{}, 0.25, 1},
		{"zero", pct(0), 0.25, 0.25},
		{"full", pct(100), 0.25, 1},
		{"half", pct(50), 0.5, 0.75},
		{"over range clamps", pct(250), 0.5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SoftWeight(tt.pct, tt.floor); got != tt.want {
				t.Errorf("SoftWeight() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHemiWeight(t *testing.T) {
	tests := []struct {
		name string
		gw   sql.NullFloat64
		want float64
	}{
		{"absent", sql.NullFloat64{}, 1},
		{"zero", cloud(0), 0.3},
		{"saturated", cloud(60), 1},
		{"above scale", cloud(90), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HemiWeight(tt.gw); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("HemiWeight() = %v, want %v", got, tt.want)
			}
		})
	}
}
