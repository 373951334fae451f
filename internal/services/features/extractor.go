package features

import (
	"math"
	"sort"
)

// minStd keeps z-scores finite on a perfectly flat baseline with zero mean.
const minStd = 1e-9

// LeaveOneOut removes a single observation x from window totals,
// so a baseline never contains the event being scored.
func LeaveOneOut(count int64, sum, sumSq, x float64) (int64, float64, float64) {
	if count <= 0 {
		return 0, 0, 0
	}
	return count - 1, sum - x, sumSq - x*x
}

// MeanStd returns the population mean and standard deviation of a sample described by
// its count, sum and sum of squares.
func MeanStd(count int64, sum, sumSq float64) (mean, std float64) {
	if count <= 0 {
		return 0, 0
	}
	n := float64(count)
	mean = sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// FlooredStd lifts std to floorRatio*|mean| so a near-constant baseline does not make
// every small change look infinitely unusual.
func FlooredStd(mean, std, floorRatio float64) float64 {
	return math.Max(math.Max(std, floorRatio*math.Abs(mean)), minStd)
}

// ZScore is (x - mean) / std for std > 0.
func ZScore(x, mean, std float64) float64 {
	return (x - mean) / std
}

// Median of values; it does not modify the input.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// RelativeDeviation measures how far own is from the peer median, in multiples of the
// median (at least one unit so empty cohorts do not divide by zero).
func RelativeDeviation(own, median float64) float64 {
	return (own - median) / math.Max(median, 1)
}
