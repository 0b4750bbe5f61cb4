package formulas

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// Variance calculates the unbiased sample variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// CovarianceAndMeans computes the sample covariance matrix (n-1 denominator) and the
// column means of a returns table whose columns are assets and rows are periods.
func CovarianceAndMeans(columns [][]float64) ([][]float64, []float64, error) {
	n := len(columns)
	if n == 0 {
		return nil, nil, fmt.Errorf("no return series provided")
	}

	periods := len(columns[0])
	for i, col := range columns {
		if len(col) != periods {
			return nil, nil, fmt.Errorf("return series %d has %d periods, expected %d", i, len(col), periods)
		}
	}
	if periods < 2 {
		return nil, nil, fmt.Errorf("insufficient history: %d periods (need at least 2)", periods)
	}

	observations := mat.NewDense(periods, n, nil)
	means := make([]float64, n)
	for j, col := range columns {
		observations.SetCol(j, col)
		means[j] = Mean(col)
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, observations, nil)

	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			rows[i][j] = cov.At(i, j)
		}
	}
	return rows, means, nil
}
