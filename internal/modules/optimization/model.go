package optimization

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// PortfolioModel holds the covariance matrix and expected-return vector of an
// asset universe. Both are copied on construction and never mutated, so one model
// can be evaluated any number of times with different weights.
type PortfolioModel struct {
	n     int
	cov   *mat.Dense
	exp   *mat.VecDense
	covSq *mat.Dense // cov + covᵀ, the variance gradient operator
}

// Evaluation is the output of PortfolioModel.Evaluate for one weight vector.
type Evaluation struct {
	// Weights is a copy of the evaluated allocation.
	Weights []float64
	// Contributions is (w wᵀ) ∘ Σ; its grand sum is the portfolio variance.
	Contributions *mat.Dense
	// ExpectedReturn is w·μ.
	ExpectedReturn float64

	model *PortfolioModel
}

// Variance returns the grand sum of the variance contribution matrix.
func (e *Evaluation) Variance() float64 {
	return mat.Sum(e.Contributions)
}

// NewPortfolioModel builds a model from an N×N covariance matrix and an N-length
// expected-return vector.
func NewPortfolioModel(covMatrix [][]float64, expectedReturns []float64) (*PortfolioModel, error) {
	n := len(expectedReturns)
	if n == 0 {
		return nil, fmt.Errorf("%w: no expected returns provided", ErrDimensionMismatch)
	}
	if len(covMatrix) != n {
		return nil, fmt.Errorf("%w: covariance matrix size %d doesn't match expected returns count %d",
			ErrDimensionMismatch, len(covMatrix), n)
	}

	cov := mat.NewDense(n, n, nil)
	for i, row := range covMatrix {
		if len(row) != n {
			return nil, fmt.Errorf("%w: covariance matrix row %d has size %d, expected %d",
				ErrDimensionMismatch, i, len(row), n)
		}
		cov.SetRow(i, row)
	}

	exp := mat.NewVecDense(n, append([]float64(nil), expectedReturns...))

	covSq := mat.NewDense(n, n, nil)
	covSq.Add(cov, cov.T())

	return &PortfolioModel{
		n:     n,
		cov:   cov,
		exp:   exp,
		covSq: covSq,
	}, nil
}

// Size returns the number of assets N.
func (m *PortfolioModel) Size() int {
	return m.n
}

// ExpectedReturns returns a copy of the expected-return vector.
func (m *PortfolioModel) ExpectedReturns() []float64 {
	return mat.Col(nil, 0, m.exp)
}

// Covariance returns a copy of the covariance matrix as rows.
func (m *PortfolioModel) Covariance() [][]float64 {
	rows := make([][]float64, m.n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, m.cov)
	}
	return rows
}

// Evaluate computes the variance contribution matrix and expected return for a
// candidate allocation. It has no side effects.
func (m *PortfolioModel) Evaluate(weights []float64) (*Evaluation, error) {
	if len(weights) != m.n {
		return nil, fmt.Errorf("%w: got %d weights for %d assets", ErrDimensionMismatch, len(weights), m.n)
	}

	w := mat.NewVecDense(m.n, append([]float64(nil), weights...))

	contributions := mat.NewDense(m.n, m.n, nil)
	contributions.Outer(1, w, w)
	contributions.MulElem(contributions, m.cov)

	return &Evaluation{
		Weights:        w.RawVector().Data,
		Contributions:  contributions,
		ExpectedReturn: mat.Dot(w, m.exp),
		model:          m,
	}, nil
}

// evalAdjoint collects the gradient of the objective with respect to each output
// of an Evaluation.
type evalAdjoint struct {
	weights  []float64
	expected float64
	variance float64
}

func newEvalAdjoint(n int) *evalAdjoint {
	return &evalAdjoint{weights: make([]float64, n)}
}

// backward turns evaluation adjoints into the gradient with respect to the weights:
//
//	∂L/∂w = adj.weights + adj.expected·μ + adj.variance·(Σ + Σᵀ)w
func (m *PortfolioModel) backward(ev *Evaluation, adj *evalAdjoint) []float64 {
	grad := append([]float64(nil), adj.weights...)

	if adj.expected != 0 {
		floats.AddScaled(grad, adj.expected, m.exp.RawVector().Data)
	}

	if adj.variance != 0 {
		var sw mat.VecDense
		sw.MulVec(m.covSq, mat.NewVecDense(m.n, ev.Weights))
		floats.AddScaled(grad, adj.variance, sw.RawVector().Data)
	}

	return grad
}
