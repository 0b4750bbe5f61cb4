package optimization

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Softmax maps an unconstrained parameter vector onto the probability simplex:
//
//	w_i = exp(p_i - max(p)) / Σ_j exp(p_j - max(p))
//
// The max is subtracted before exponentiating so large parameters cannot overflow.
// The zero vector maps to the uniform allocation 1/N.
func Softmax(params []float64) []float64 {
	weights := make([]float64, len(params))
	if len(params) == 0 {
		return weights
	}

	maxParam := floats.Max(params)
	var total float64
	for i, p := range params {
		weights[i] = math.Exp(p - maxParam)
		total += weights[i]
	}
	floats.Scale(1/total, weights)

	return weights
}

// softmaxBackward pulls a gradient on the weights back through Softmax:
//
//	∂L/∂p_i = w_i (∂L/∂w_i − Σ_j w_j ∂L/∂w_j)
func softmaxBackward(weights, gradWeights []float64) []float64 {
	inner := floats.Dot(weights, gradWeights)

	grad := make([]float64, len(weights))
	for i, w := range weights {
		grad[i] = w * (gradWeights[i] - inner)
	}
	return grad
}
