package utils

import "math"

// Clamp limits v to [lo, hi]. NaN is mapped to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RoundToTenth rounds to one decimal place so repeated +0.1 steps stay on the grid.
func RoundToTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
