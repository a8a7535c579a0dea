// Package stats implements the robust statistics the recurrence and anomaly
// components are built on: median, median absolute deviation, and robust
// z-scores. Medians resist the outliers that mean/stddev would be dragged by,
// which matters for small per-merchant histories.
package stats

import (
	"sort"

	"github.com/shopspring/decimal"
)

// two is hoisted so Median does not allocate a decimal per call.
var two = decimal.NewFromInt(2)

// Median returns the median of values: the middle element for odd counts, the
// mean of the two middle elements for even counts. The input is not modified.
// An empty input yields zero.
func Median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(two)
}

// MAD returns the median absolute deviation of values around their median.
func MAD(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	med := Median(values)
	deviations := make([]decimal.Decimal, len(values))
	for i, v := range values {
		deviations[i] = v.Sub(med).Abs()
	}
	return Median(deviations)
}

// madScale converts MAD to a stddev-consistent estimate for normal data.
const madScale = 1.4826

// RobustZ returns the robust z-score of value against the history: the
// distance from the median in scaled-MAD units. A zero MAD (constant history)
// returns 0 when the value matches the median and +Inf-like large score
// otherwise is avoided by falling back to 0; callers treat a degenerate
// history as uninformative rather than alarming.
func RobustZ(value decimal.Decimal, history []decimal.Decimal) float64 {
	if len(history) == 0 {
		return 0
	}

	med := Median(history)
	mad := MAD(history)
	if mad.IsZero() {
		return 0
	}

	diff, _ := value.Sub(med).Abs().Float64()
	madF, _ := mad.Float64()
	return diff / (madScale * madF)
}

// MedianInt returns the median of integer values as a float, used for day
// deltas between charges.
func MedianInt(values []int) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2
}
