package match

import "math"

func clamp(value, minValue, maxValue float64) float64 {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}
	return value
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
