package models

import (
	"math"
	"time"
)

// WindowAggregate is the summary of one entity over [Start, End).
// Sum and SumSq track quantity; the Notional fields track quantity*price.
type WindowAggregate struct {
	EntityKey     EntityKey     `json:"entity_key"`
	WindowSize    time.Duration `json:"window_size"`
	Start         time.Time     `json:"start"`
	End           time.Time     `json:"end"`
	Count         int64         `json:"count"`
	Sum           float64       `json:"sum"`
	SumSq         float64       `json:"sum_sq"`
	Max           float64       `json:"max"`
	Min           float64       `json:"min"`
	NotionalSum   float64       `json:"notional_sum"`
	NotionalSumSq float64       `json:"notional_sum_sq"`
	Revision      int           `json:"revision"`
}

func (a WindowAggregate) Mean() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// Variance is the population variance of quantity, clamped at zero.
func (a WindowAggregate) Variance() float64 {
	return variance(a.Count, a.Sum, a.SumSq)
}

func (a WindowAggregate) NotionalMean() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.NotionalSum / float64(a.Count)
}

func (a WindowAggregate) NotionalVariance() float64 {
	return variance(a.Count, a.NotionalSum, a.NotionalSumSq)
}

func variance(n int64, sum, sumSq float64) float64 {
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return math.Max(sumSq/float64(n)-mean*mean, 0)
}
