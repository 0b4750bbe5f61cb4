package optimization

import (
	"encoding/json"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// LossKind identifies one of the recognized loss term variants.
type LossKind string

const (
	// LossExpectedReturn rewards higher expected return: -(w·μ).
	LossExpectedReturn LossKind = "exp"
	// LossVariance penalizes portfolio variance: Σ_ij w_i w_j Σ_ij.
	LossVariance LossKind = "var"
	// LossTargetReturn penalizes squared distance from a target return: (t - w·μ)².
	LossTargetReturn LossKind = "exp_l2"
	// LossGroupProportion penalizes a group's combined weight away from a target.
	LossGroupProportion LossKind = "group"
)

// LossKinds lists the recognized kinds in documentation order.
var LossKinds = []LossKind{LossExpectedReturn, LossVariance, LossTargetReturn, LossGroupProportion}

// IndexRef points at one group member, either by position or by asset identifier.
type IndexRef struct {
	Position int
	Symbol   string
}

// UnmarshalJSON accepts an integer position or an asset identifier string.
func (r *IndexRef) UnmarshalJSON(data []byte) error {
	var pos int
	if err := json.Unmarshal(data, &pos); err == nil {
		*r = IndexRef{Position: pos}
		return nil
	}

	var symbol string
	if err := json.Unmarshal(data, &symbol); err != nil {
		return fmt.Errorf("group index must be a position or an asset identifier: %s", string(data))
	}
	*r = IndexRef{Symbol: symbol}
	return nil
}

// MarshalJSON writes the symbol when one was given, the position otherwise.
func (r IndexRef) MarshalJSON() ([]byte, error) {
	if r.Symbol != "" {
		return json.Marshal(r.Symbol)
	}
	return json.Marshal(r.Position)
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML run configs.
func (r *IndexRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("group index must be a scalar at line %d", value.Line)
	}
	if value.Tag == "!!int" {
		var pos int
		if err := value.Decode(&pos); err != nil {
			return err
		}
		*r = IndexRef{Position: pos}
		return nil
	}
	*r = IndexRef{Symbol: value.Value}
	return nil
}

// LossSpec is the declarative form of a loss term, as read from run configs and
// API requests. Optional numeric fields are pointers so that "absent" can be told
// apart from zero.
type LossSpec struct {
	Type       string     `json:"type" yaml:"type"`
	Multiplier *float64   `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	Label      string     `json:"label,omitempty" yaml:"label,omitempty"`
	TargetExp  *float64   `json:"target_exp,omitempty" yaml:"target_exp,omitempty"`
	Indices    []IndexRef `json:"indices,omitempty" yaml:"indices,omitempty"`
	Target     *float64   `json:"target,omitempty" yaml:"target,omitempty"`
	BothDirs   *bool      `json:"both_dirs,omitempty" yaml:"both_dirs,omitempty"`
}

// LossTerm is one additive component of the objective. It is immutable; build it
// with NewLossTerm or one of the kind constructors.
type LossTerm struct {
	kind       LossKind
	multiplier float64
	label      string

	targetExp float64

	indices  []int
	target   float64
	bothDirs bool
}

// ExpectedReturnLoss rewards expected return.
func ExpectedReturnLoss(multiplier float64) LossTerm {
	return LossTerm{kind: LossExpectedReturn, multiplier: multiplier}
}

// VarianceLoss penalizes variance.
func VarianceLoss(multiplier float64) LossTerm {
	return LossTerm{kind: LossVariance, multiplier: multiplier}
}

// TargetReturnLoss penalizes the squared deviation of expected return from target.
func TargetReturnLoss(multiplier, target float64) LossTerm {
	return LossTerm{kind: LossTargetReturn, multiplier: multiplier, targetExp: target}
}

// GroupProportionLoss penalizes the combined weight of the assets at indices
// exceeding target, or deviating from it in either direction when bothDirs is set.
func GroupProportionLoss(multiplier float64, indices []int, target float64, bothDirs bool) LossTerm {
	return LossTerm{
		kind:       LossGroupProportion,
		multiplier: multiplier,
		indices:    append([]int(nil), indices...),
		target:     target,
		bothDirs:   bothDirs,
	}
}

// WithLabel returns a copy of the term carrying label.
func (t LossTerm) WithLabel(label string) LossTerm {
	t.label = label
	return t
}

// Kind returns the variant of the term.
func (t LossTerm) Kind() LossKind { return t.kind }

// Multiplier returns the factor applied to the raw value.
func (t LossTerm) Multiplier() float64 { return t.multiplier }

// Label returns the report label, falling back to the kind name.
func (t LossTerm) Label() string {
	if t.label != "" {
		return t.label
	}
	return string(t.kind)
}

// Indices returns a copy of the group member positions.
func (t LossTerm) Indices() []int { return append([]int(nil), t.indices...) }

// NewLossTerm validates a declarative spec and builds the term. Group members given
// by identifier are resolved against assets.
func NewLossTerm(spec LossSpec, assets []string) (LossTerm, error) {
	multiplier := 1.0
	if spec.Multiplier != nil {
		multiplier = *spec.Multiplier
	}

	var term LossTerm
	switch LossKind(spec.Type) {
	case LossExpectedReturn:
		term = ExpectedReturnLoss(multiplier)
	case LossVariance:
		term = VarianceLoss(multiplier)
	case LossTargetReturn:
		if spec.TargetExp == nil {
			return LossTerm{}, fmt.Errorf("%w: %s requires target_exp", ErrMissingLossParameter, spec.Type)
		}
		term = TargetReturnLoss(multiplier, *spec.TargetExp)
	case LossGroupProportion:
		var missing []string
		if spec.Indices == nil {
			missing = append(missing, "indices")
		}
		if spec.Target == nil {
			missing = append(missing, "target")
		}
		if spec.BothDirs == nil {
			missing = append(missing, "both_dirs")
		}
		if len(missing) > 0 {
			return LossTerm{}, fmt.Errorf("%w: %s requires %v", ErrMissingLossParameter, spec.Type, missing)
		}
		indices, err := resolveIndices(spec.Indices, assets)
		if err != nil {
			return LossTerm{}, err
		}
		term = GroupProportionLoss(multiplier, indices, *spec.Target, *spec.BothDirs)
	case "":
		return LossTerm{}, fmt.Errorf("%w: type is required", ErrMissingLossParameter)
	default:
		return LossTerm{}, fmt.Errorf("%w: %q", ErrUnknownLossType, spec.Type)
	}

	return term.WithLabel(spec.Label), nil
}

// BuildLossTerms converts every spec, failing on the first invalid one.
func BuildLossTerms(specs []LossSpec, assets []string) ([]LossTerm, error) {
	terms := make([]LossTerm, 0, len(specs))
	for i, spec := range specs {
		term, err := NewLossTerm(spec, assets)
		if err != nil {
			return nil, fmt.Errorf("loss %d: %w", i, err)
		}
		terms = append(terms, term)
	}
	return terms, nil
}

func resolveIndices(refs []IndexRef, assets []string) ([]int, error) {
	positions := make(map[string]int, len(assets))
	for i, a := range assets {
		positions[a] = i
	}

	indices := make([]int, 0, len(refs))
	for _, ref := range refs {
		if ref.Symbol != "" {
			pos, ok := positions[ref.Symbol]
			if !ok {
				return nil, fmt.Errorf("%w: group member %q is not in the asset list", ErrDimensionMismatch, ref.Symbol)
			}
			indices = append(indices, pos)
			continue
		}
		if ref.Position < 0 || ref.Position >= len(assets) {
			return nil, fmt.Errorf("%w: group index %d out of range [0, %d)", ErrDimensionMismatch, ref.Position, len(assets))
		}
		indices = append(indices, ref.Position)
	}
	return indices, nil
}

// validate checks the term against an N-asset universe.
func (t LossTerm) validate(n int) error {
	switch t.kind {
	case LossExpectedReturn, LossVariance, LossTargetReturn:
		return nil
	case LossGroupProportion:
		for _, idx := range t.indices {
			if idx < 0 || idx >= n {
				return fmt.Errorf("%w: group index %d out of range [0, %d)", ErrDimensionMismatch, idx, n)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLossType, t.kind)
	}
}

// Raw returns the term's value before the multiplier.
func (t LossTerm) Raw(ev *Evaluation) float64 {
	switch t.kind {
	case LossExpectedReturn:
		return -ev.ExpectedReturn
	case LossVariance:
		return ev.Variance()
	case LossTargetReturn:
		diff := t.targetExp - ev.ExpectedReturn
		return diff * diff
	case LossGroupProportion:
		excess := t.groupWeight(ev) - t.target
		if t.bothDirs {
			return math.Abs(excess)
		}
		return math.Max(0, excess)
	default:
		panic(fmt.Sprintf("optimization: unhandled loss kind %q", t.kind))
	}
}

// Value returns the term's contribution to the objective: multiplier × raw.
func (t LossTerm) Value(ev *Evaluation) float64 {
	return t.multiplier * t.Raw(ev)
}

// backward adds the term's gradient with respect to the evaluation outputs to adj.
// Kinks of abs and max(0, x) take a zero subgradient.
func (t LossTerm) backward(ev *Evaluation, adj *evalAdjoint) {
	switch t.kind {
	case LossExpectedReturn:
		adj.expected -= t.multiplier
	case LossVariance:
		adj.variance += t.multiplier
	case LossTargetReturn:
		adj.expected += t.multiplier * 2 * (ev.ExpectedReturn - t.targetExp)
	case LossGroupProportion:
		excess := t.groupWeight(ev) - t.target
		var slope float64
		switch {
		case excess > 0:
			slope = 1
		case excess < 0 && t.bothDirs:
			slope = -1
		}
		if slope == 0 {
			return
		}
		for _, idx := range t.indices {
			adj.weights[idx] += t.multiplier * slope
		}
	default:
		panic(fmt.Sprintf("optimization: unhandled loss kind %q", t.kind))
	}
}

func (t LossTerm) groupWeight(ev *Evaluation) float64 {
	var sum float64
	for _, idx := range t.indices {
		sum += ev.Weights[idx]
	}
	return sum
}
