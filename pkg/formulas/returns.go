// Package formulas provides the return and risk statistics the optimizer consumes.
package formulas

import (
	"fmt"
	"math"
	"sort"

	"github.com/markcheno/go-talib"
)

// PercentChange converts a series of period opening prices and per-period dividends
// into per-period returns:
//
//	r[t] = (open[t+1] - open[t]) / open[t] + dividend[t] / open[t]
//
// The last period has no successor and is dropped, so the result has len(opens)-1
// entries. Periods opening at zero yield NaN, which callers treat as missing.
func PercentChange(opens, dividends []float64) ([]float64, error) {
	if dividends != nil && len(dividends) != len(opens) {
		return nil, fmt.Errorf("dividends length %d doesn't match opens length %d", len(dividends), len(opens))
	}
	if len(opens) < 2 {
		return []float64{}, nil
	}

	// Rocp[i] = (open[i] - open[i-1]) / open[i-1]
	rocp := talib.Rocp(opens, 1)

	returns := make([]float64, len(opens)-1)
	for t := range returns {
		if opens[t] == 0 {
			returns[t] = math.NaN()
			continue
		}
		returns[t] = rocp[t+1]
		if dividends != nil {
			returns[t] += dividends[t] / opens[t]
		}
	}
	return returns, nil
}

// FixedRatePerPeriod converts a rate earned over a term of months into the
// equivalent compounded per-month return: (1 + rate)^(1/months) - 1.
func FixedRatePerPeriod(rate float64, months int) (float64, error) {
	if months < 1 {
		return 0, fmt.Errorf("months must be at least 1, got %d", months)
	}
	if rate <= -1 {
		return 0, fmt.Errorf("rate must be greater than -1, got %v", rate)
	}
	return math.Pow(1+rate, 1/float64(months)) - 1, nil
}

// Median returns the median of the non-NaN values, averaging the middle pair for
// even counts. It returns NaN when no values remain.
func Median(data []float64) float64 {
	values := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return math.NaN()
	}

	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}
