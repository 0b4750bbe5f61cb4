package marketdata

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/gdportfolio/internal/clients/yahoo"
	"github.com/aristath/gdportfolio/pkg/formulas"
)

// Service assembles covariance and expected returns from price history
type Service struct {
	provider HistoryProvider
	log      zerolog.Logger
}

// NewService creates a new market data service
func NewService(provider HistoryProvider, log zerolog.Logger) *Service {
	return &Service{
		provider: provider,
		log:      log.With().Str("service", "marketdata").Logger(),
	}
}

// Inputs downloads history for every ticker, aligns per-period returns on
// date, appends fixed-rate columns and computes Σ and μ.
func (s *Service) Inputs(ctx context.Context, req Request) (*Inputs, error) {
	if len(req.Tickers) == 0 {
		return nil, fmt.Errorf("at least one ticker is required")
	}

	series := make([]map[time.Time]float64, len(req.Tickers))
	for i, ticker := range req.Tickers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bars, err := s.provider.GetHistory(ctx, ticker, req.Period, req.Interval)
		if err != nil {
			return nil, fmt.Errorf("failed to get history for %s: %w", ticker, err)
		}

		returns, err := periodReturns(bars)
		if err != nil {
			return nil, fmt.Errorf("failed to compute returns for %s: %w", ticker, err)
		}
		if len(returns) == 0 {
			return nil, fmt.Errorf("no usable returns for %s (%d bars)", ticker, len(bars))
		}
		series[i] = returns

		s.log.Debug().Str("ticker", ticker).Int("periods", len(returns)).Msg("Computed period returns")
	}

	dates, columns := align(series, req.DropNA)
	if len(dates) < 2 {
		return nil, fmt.Errorf("need at least 2 aligned periods, got %d", len(dates))
	}

	assets := append([]string(nil), req.Tickers...)
	for _, fr := range req.FixedRates {
		perPeriod, err := formulas.FixedRatePerPeriod(fr.Rate, fr.Months)
		if err != nil {
			return nil, fmt.Errorf("fixed rate %s: %w", fr.Label, err)
		}
		column := make([]float64, len(dates))
		for i := range column {
			column[i] = perPeriod
		}
		columns = append(columns, column)
		assets = append(assets, fr.Label)
	}

	cov, exp, err := formulas.CovarianceAndMeans(columns)
	if err != nil {
		return nil, fmt.Errorf("failed to compute covariance: %w", err)
	}

	s.log.Info().
		Int("assets", len(assets)).
		Int("periods", len(dates)).
		Bool("dropna", req.DropNA).
		Msg("Assembled optimizer inputs")

	return &Inputs{
		Assets:  assets,
		Dates:   dates,
		Returns: columns,
		Cov:     cov,
		Exp:     exp,
	}, nil
}

// periodReturns maps each bar's date to the return earned until the next bar.
// Periods with an undefined return are left out.
func periodReturns(bars []yahoo.Bar) (map[time.Time]float64, error) {
	opens := make([]float64, len(bars))
	dividends := make([]float64, len(bars))
	for i, bar := range bars {
		opens[i] = bar.Open
		dividends[i] = bar.Dividend
	}

	changes, err := formulas.PercentChange(opens, dividends)
	if err != nil {
		return nil, err
	}

	out := make(map[time.Time]float64, len(changes))
	for i, change := range changes {
		if math.IsNaN(change) || math.IsInf(change, 0) {
			continue
		}
		out[bars[i].Date.UTC()] = change
	}
	return out, nil
}

// align builds one column per series over a common ascending date index.
// With dropNA only dates present in every series are kept; otherwise the
// union is used and gaps are filled with the column median.
func align(series []map[time.Time]float64, dropNA bool) ([]time.Time, [][]float64) {
	counts := make(map[time.Time]int)
	for _, s := range series {
		for date := range s {
			counts[date]++
		}
	}

	dates := make([]time.Time, 0, len(counts))
	for date, count := range counts {
		if dropNA && count < len(series) {
			continue
		}
		dates = append(dates, date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	columns := make([][]float64, len(series))
	for c, s := range series {
		column := make([]float64, len(dates))
		for i, date := range dates {
			if v, ok := s[date]; ok {
				column[i] = v
			} else {
				column[i] = math.NaN()
			}
		}

		if !dropNA {
			median := formulas.Median(column)
			for i, v := range column {
				if math.IsNaN(v) {
					column[i] = median
				}
			}
		}
		columns[c] = column
	}

	return dates, columns
}
