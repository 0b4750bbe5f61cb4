// Package marketdata turns downloaded price history into optimizer inputs.
package marketdata

import (
	"context"
	"time"

	"github.com/aristath/gdportfolio/internal/clients/yahoo"
)

// HistoryProvider supplies per-period price history for a ticker
type HistoryProvider interface {
	GetHistory(ctx context.Context, ticker, period, interval string) ([]yahoo.Bar, error)
}

// FixedRate is a synthetic asset with a constant return
type FixedRate struct {
	Label  string
	Rate   float64 // Total return earned over Months
	Months int
}

// Request describes which data to assemble
type Request struct {
	Tickers    []string
	FixedRates []FixedRate
	Period     string
	Interval   string
	DropNA     bool // Drop dates missing for any ticker instead of median-filling
}

// Inputs are the optimizer inputs derived from aligned per-period returns.
// Assets are tickers in request order followed by fixed-rate labels.
type Inputs struct {
	Assets  []string    `json:"assets"`
	Dates   []time.Time `json:"dates"`
	Returns [][]float64 `json:"returns"` // One column per asset, aligned with Dates
	Cov     [][]float64 `json:"cov"`
	Exp     []float64   `json:"exp"`
}

// Variances returns the diagonal of the covariance matrix
func (in *Inputs) Variances() []float64 {
	out := make([]float64, len(in.Cov))
	for i := range in.Cov {
		out[i] = in.Cov[i][i]
	}
	return out
}
