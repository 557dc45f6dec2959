// Package util provides common utility functions for price and strike calculations.
package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
// Ties round away from zero, so 502.5 ticks becomes 503 ticks.
func RoundToTick(x, tick float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	tick = math.Abs(tick)
	if tick == 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// strikeEpsilon absorbs float error in price/unit, so 25124.999999999996
// counts as the tie 502.5 units.
const strikeEpsilon = 1e-9

// RoundStrike rounds a price to the nearest multiple of unit and returns it as
// a whole number of index points. Ties round up.
func RoundStrike(price, unit float64) int {
	return roundStrike(price, unit, true)
}

// RoundStrikeAwayFrom is RoundStrike with ties broken away from ref: up when
// price is at or above ref, down when below. Strikes placed symmetrically
// around ref stay symmetric.
func RoundStrikeAwayFrom(price, ref, unit float64) int {
	return roundStrike(price, unit, price >= ref)
}

func roundStrike(price, unit float64, tiesUp bool) int {
	unit = math.Abs(unit)
	if unit == 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return int(math.Round(price))
	}
	q := price / unit
	var n float64
	if tiesUp {
		n = math.Floor(q + 0.5 + strikeEpsilon)
	} else {
		n = math.Ceil(q - 0.5 - strikeEpsilon)
	}
	return int(math.Round(n * unit))
}

// ApproxEqual reports whether a and b differ by no more than eps.
func ApproxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}
