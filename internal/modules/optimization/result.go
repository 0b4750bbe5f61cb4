package optimization

import (
	"encoding/json"
	"fmt"
)

// LossContribution is one line of the itemized loss breakdown. It serializes as a
// [label, value] pair.
type LossContribution struct {
	Label string
	Value float64
}

// MarshalJSON writes the contribution as a two-element array.
func (c LossContribution) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{c.Label, c.Value})
}

// UnmarshalJSON reads a [label, value] pair.
func (c *LossContribution) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("loss contribution must have 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &c.Label); err != nil {
		return fmt.Errorf("loss contribution label: %w", err)
	}
	if err := json.Unmarshal(pair[1], &c.Value); err != nil {
		return fmt.Errorf("loss contribution value: %w", err)
	}
	return nil
}

// Result is the outcome of a completed run.
type Result struct {
	// Assets preserves the identifier order the model was built with.
	Assets           []string           `json:"assets"`
	Allocations      map[string]float64 `json:"final_allocations"`
	LossBreakdown    []LossContribution `json:"final_loss_breakdown"`
	RawLossBreakdown []LossContribution `json:"final_loss_breakdown_without_multipliers,omitempty"`
	ExpectedValue    float64            `json:"final_exp"`
	Variance         float64            `json:"final_var"`
}

// Weights returns the allocation in asset order.
func (r *Result) Weights() []float64 {
	weights := make([]float64, len(r.Assets))
	for i, a := range r.Assets {
		weights[i] = r.Allocations[a]
	}
	return weights
}

// Result freezes the parameters, re-evaluates the model once and itemizes every
// loss term at the final allocation.
func (g *GDPortfolio) Result() (*Result, error) {
	if g.state != StateConverged {
		return nil, fmt.Errorf("%w: state is %s", ErrNotConverged, g.state)
	}

	weights := g.Allocations()
	ev, err := g.model.Evaluate(weights)
	if err != nil {
		return nil, err
	}

	allocations := make(map[string]float64, len(g.assets))
	for i, a := range g.assets {
		allocations[a] = weights[i]
	}

	breakdown := make([]LossContribution, len(g.terms))
	raw := make([]LossContribution, len(g.terms))
	for i, t := range g.terms {
		breakdown[i] = LossContribution{Label: t.Label(), Value: t.Value(ev)}
		raw[i] = LossContribution{Label: t.Label(), Value: t.Raw(ev)}
	}

	return &Result{
		Assets:           append([]string(nil), g.assets...),
		Allocations:      allocations,
		LossBreakdown:    breakdown,
		RawLossBreakdown: raw,
		ExpectedValue:    ev.ExpectedReturn,
		Variance:         ev.Variance(),
	}, nil
}
