package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		tick     float64
		expected float64
	}{
		{
			name:     "basic rounding down",
			x:        1.2345,
			tick:     0.01,
			expected: 1.23,
		},
		{
			name:     "tie rounds away from zero",
			x:        25125,
			tick:     50,
			expected: 25150,
		},
		{
			name:     "negative tie rounds away from zero",
			x:        -25125,
			tick:     50,
			expected: -25150,
		},
		{
			name:     "larger tick size",
			x:        24876,
			tick:     50,
			expected: 24900,
		},
		{
			name:     "exact multiple",
			x:        24850,
			tick:     50,
			expected: 24850,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToTick(tt.x, tt.tick)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("RoundToTick(%v, %v) = %v, expected %v", tt.x, tt.tick, result, tt.expected)
			}
		})
	}
}

func TestRoundStrike_MultipleOfUnitWithinHalfUnit(t *testing.T) {
	units := []float64{25, 50, 100}
	for _, unit := range units {
		for p := 20000.0; p <= 26000.0; p += 7.3 {
			got := RoundStrike(p, unit)
			if math.Mod(float64(got), unit) != 0 {
				t.Fatalf("RoundStrike(%v, %v) = %d, not a multiple of %v", p, unit, got, unit)
			}
			if math.Abs(float64(got)-p) > unit/2+1e-6 {
				t.Fatalf("RoundStrike(%v, %v) = %d, more than %v away", p, unit, got, unit/2)
			}
		}
	}
}

func TestRoundStrike_HalfUp(t *testing.T) {
	underlying := 25000.0
	tests := []struct {
		name  string
		price float64
		unit  float64
		want  int
	}{
		{"exact tie", 25125, 50, 25150},
		{"tie below float precision", underlying * (1 + 0.5/100), 50, 25150},
		{"put side tie", 24875, 50, 24900},
		{"below tie", 25124.9, 50, 25100},
		{"exact multiple", 24850, 50, 24850},
		{"zero unit", 24876.4, 0, 24876},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundStrike(tt.price, tt.unit); got != tt.want {
				t.Errorf("RoundStrike(%v, %v) = %d, expected %d", tt.price, tt.unit, got, tt.want)
			}
		})
	}
}

func TestRoundStrikeAwayFrom(t *testing.T) {
	underlying := 25000.0
	tests := []struct {
		name  string
		price float64
		want  int
	}{
		{"call tie rounds up", underlying * (1 + 0.5/100), 25150},
		{"put tie rounds down", underlying * (1 - 0.5/100), 24850},
		{"put tie computed from offset", underlying - underlying*0.5/100, 24850},
		{"put below tie", 24874, 24850},
		{"put above tie", 24876, 24900},
		{"at reference", 25000, 25000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundStrikeAwayFrom(tt.price, underlying, 50); got != tt.want {
				t.Errorf("RoundStrikeAwayFrom(%v, %v, 50) = %d, expected %d", tt.price, underlying, got, tt.want)
			}
		})
	}

	for p := 20000.0; p <= 26000.0; p += 7.3 {
		up := RoundStrikeAwayFrom(p, 23000, 50)
		if up%50 != 0 || math.Abs(float64(up)-p) > 25+1e-6 {
			t.Fatalf("RoundStrikeAwayFrom(%v, 23000, 50) = %d", p, up)
		}
	}
}

func TestTickRoundingEdgeCases(t *testing.T) {
	t.Run("zero tick returns input", func(t *testing.T) {
		input := 1.2345
		if result := RoundToTick(input, 0); result != input {
			t.Errorf("RoundToTick(%v, 0) = %v, expected %v", input, result, input)
		}
	})

	t.Run("NaN inputs return unchanged", func(t *testing.T) {
		if result := RoundToTick(math.NaN(), 0.01); !math.IsNaN(result) {
			t.Errorf("RoundToTick(NaN, 0.01) = %v, expected NaN", result)
		}
	})

	t.Run("infinite inputs return unchanged", func(t *testing.T) {
		posInf := math.Inf(1)
		if result := RoundToTick(posInf, 0.01); result != posInf {
			t.Errorf("RoundToTick(+Inf, 0.01) = %v, expected +Inf", result)
		}
	})

	t.Run("negative tick uses absolute value", func(t *testing.T) {
		result := RoundToTick(24876, -50)
		if math.Abs(result-24900) > 1e-10 {
			t.Errorf("RoundToTick(24876, -50) = %v, expected 24900", result)
		}
	})
}

func TestApproxEqual(t *testing.T) {
	if !ApproxEqual(2515000, 2515000.0000001, 1e-6) {
		t.Error("expected values within tolerance to be equal")
	}
	if ApproxEqual(2515000, 2515000.01, 1e-6) {
		t.Error("expected values outside tolerance to differ")
	}
}
