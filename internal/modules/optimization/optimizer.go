package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// Defaults for Options fields left at zero.
const (
	DefaultEpochs       = 1000
	DefaultLearningRate = 1.0
)

// State is the lifecycle position of a GDPortfolio.
type State int

const (
	StateInitialized State = iota
	StateRunning
	StateConverged
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateConverged:
		return "converged"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Progress is reported to Options.OnProgress during a run.
type Progress struct {
	Epoch       int       `json:"epoch"`
	Epochs      int       `json:"epochs"`
	Objective   float64   `json:"objective"`
	Allocations []float64 `json:"allocations"`
}

// Options controls a gradient-descent run. Zero Epochs and LearningRate take the
// package defaults.
type Options struct {
	Epochs       int
	LearningRate float64

	// OnProgress, when set, is called synchronously every ReportEvery epochs
	// (default 100) and after the last epoch.
	OnProgress  func(Progress)
	ReportEvery int
}

func (o Options) withDefaults() (Options, error) {
	if o.Epochs < 0 {
		return o, fmt.Errorf("%w: epochs must be non-negative, got %d", ErrInvalidOptions, o.Epochs)
	}
	if o.Epochs == 0 {
		o.Epochs = DefaultEpochs
	}
	if o.LearningRate == 0 {
		o.LearningRate = DefaultLearningRate
	}
	if o.LearningRate < 0 || math.IsNaN(o.LearningRate) || math.IsInf(o.LearningRate, 0) {
		return o, fmt.Errorf("%w: learning rate must be positive and finite, got %v", ErrInvalidOptions, o.LearningRate)
	}
	if o.ReportEvery <= 0 {
		o.ReportEvery = 100
	}
	return o, nil
}

// GDPortfolio minimizes the sum of its loss terms over the simplex by plain
// gradient descent on softmax parameters.
type GDPortfolio struct {
	model  *PortfolioModel
	assets []string
	terms  []LossTerm
	params []float64
	state  State
	log    zerolog.Logger
}

// NewGDPortfolio checks that assets and terms fit the model and starts from zero
// parameters, i.e. the uniform allocation.
func NewGDPortfolio(model *PortfolioModel, assets []string, terms []LossTerm, log zerolog.Logger) (*GDPortfolio, error) {
	n := model.Size()
	if len(assets) != n {
		return nil, fmt.Errorf("%w: %d asset identifiers for %d assets", ErrDimensionMismatch, len(assets), n)
	}

	seen := make(map[string]bool, n)
	for _, a := range assets {
		if seen[a] {
			return nil, fmt.Errorf("%w: duplicate asset identifier %q", ErrDimensionMismatch, a)
		}
		seen[a] = true
	}

	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: at least one loss term is required", ErrMissingLossParameter)
	}
	for i, t := range terms {
		if err := t.validate(n); err != nil {
			return nil, fmt.Errorf("loss %d (%s): %w", i, t.Label(), err)
		}
	}

	return &GDPortfolio{
		model:  model,
		assets: append([]string(nil), assets...),
		terms:  append([]LossTerm(nil), terms...),
		params: make([]float64, n),
		state:  StateInitialized,
		log:    log.With().Str("component", "gd_portfolio").Logger(),
	}, nil
}

// State returns the lifecycle state.
func (g *GDPortfolio) State() State {
	return g.state
}

// Allocations returns the current weights derived from the parameters.
func (g *GDPortfolio) Allocations() []float64 {
	return Softmax(g.params)
}

// Fit runs exactly opts.Epochs descent steps. Calling it again after convergence
// continues from the current parameters.
func (g *GDPortfolio) Fit(opts Options) error {
	if g.state == StateFailed {
		return fmt.Errorf("optimizer failed previously and cannot be resumed")
	}

	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}

	g.state = StateRunning
	g.log.Debug().
		Int("assets", len(g.assets)).
		Int("loss_terms", len(g.terms)).
		Int("epochs", opts.Epochs).
		Float64("learning_rate", opts.LearningRate).
		Msg("Starting gradient descent")

	var objective float64
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		var grad []float64
		objective, grad, err = g.objective(g.params)
		if err != nil {
			g.state = StateFailed
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}

		floats.AddScaled(g.params, -opts.LearningRate, grad)

		if opts.OnProgress != nil && (epoch%opts.ReportEvery == 0 || epoch == opts.Epochs) {
			opts.OnProgress(Progress{
				Epoch:       epoch,
				Epochs:      opts.Epochs,
				Objective:   objective,
				Allocations: g.Allocations(),
			})
		}
	}

	g.state = StateConverged
	g.log.Debug().Float64("objective", objective).Msg("Gradient descent finished")
	return nil
}

// objective evaluates the summed loss at params and its gradient with respect to
// params: softmax, portfolio evaluation and each term are differentiated in reverse.
func (g *GDPortfolio) objective(params []float64) (float64, []float64, error) {
	weights := Softmax(params)
	ev, err := g.model.Evaluate(weights)
	if err != nil {
		return 0, nil, err
	}

	adj := newEvalAdjoint(g.model.Size())
	var total float64
	for _, t := range g.terms {
		v := t.Value(ev)
		if !isFinite(v) {
			return 0, nil, fmt.Errorf("%w: loss %q evaluated to %v", ErrNonFiniteObjective, t.Label(), v)
		}
		total += v
		t.backward(ev, adj)
	}
	if !isFinite(total) {
		return 0, nil, fmt.Errorf("%w: objective evaluated to %v", ErrNonFiniteObjective, total)
	}

	grad := softmaxBackward(weights, g.model.backward(ev, adj))
	for _, d := range grad {
		if !isFinite(d) {
			return 0, nil, fmt.Errorf("%w: gradient component %v", ErrNonFiniteObjective, d)
		}
	}

	return total, grad, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Optimize builds a GDPortfolio, fits it and assembles the result.
func Optimize(model *PortfolioModel, assets []string, terms []LossTerm, opts Options, log zerolog.Logger) (*Result, error) {
	gd, err := NewGDPortfolio(model, assets, terms, log)
	if err != nil {
		return nil, err
	}
	if err := gd.Fit(opts); err != nil {
		return nil, fmt.Errorf("optimization failed: %w", err)
	}
	return gd.Result()
}
