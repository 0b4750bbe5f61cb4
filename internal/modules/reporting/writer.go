// Package reporting writes run artifacts to disk and, optionally, to S3.
package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/gdportfolio/internal/modules/marketdata"
	"github.com/aristath/gdportfolio/internal/modules/optimization"
)

// Artifact paths relative to the output directory
const (
	ConfigFile     = "config.json"
	ResultsFile    = "results/gd_results.json"
	ComparisonFile = "results/comparison.json"
	InputsFile     = "eda/inputs.json"
)

// Report is everything produced by one run
type Report struct {
	RunID  string
	Config interface{} // Run config as submitted
	Result *optimization.Result
	Inputs *marketdata.Inputs // Optional; nil for runs on caller-supplied Σ and μ
}

// AssetStat is one bar of a portfolio-vs-assets comparison
type AssetStat struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Comparison ranks every asset against the optimized portfolio
type Comparison struct {
	// Expected return per period, highest first
	Expected []AssetStat `json:"expected"`
	// Variance per period, lowest first
	Variance []AssetStat `json:"variance"`
}

type inputsDocument struct {
	Assets    []string    `json:"assets"`
	Dates     []string    `json:"dates"`
	Expected  []float64   `json:"expected_returns"`
	Variances []float64   `json:"variances"`
	Cov       [][]float64 `json:"cov"`
}

// Sink receives rendered artifacts
type Sink interface {
	Put(ctx context.Context, runID string, files map[string][]byte) error
}

// Service renders reports and hands them to the local writer and any sinks
type Service struct {
	sinks []Sink
	log   zerolog.Logger
}

// NewService creates a reporting service; sinks may be empty
func NewService(log zerolog.Logger, sinks ...Sink) *Service {
	return &Service{
		sinks: sinks,
		log:   log.With().Str("service", "reporting").Logger(),
	}
}

// Publish renders the report, writes it under outputPath (skipped when
// empty) and uploads it to every sink.
func (s *Service) Publish(ctx context.Context, outputPath string, report Report) error {
	files, err := Render(report)
	if err != nil {
		return err
	}

	if outputPath != "" {
		if err := WriteFiles(outputPath, files); err != nil {
			return err
		}
		s.log.Info().Str("run_id", report.RunID).Str("path", outputPath).Int("files", len(files)).Msg("Wrote report")
	}

	for _, sink := range s.sinks {
		if err := sink.Put(ctx, report.RunID, files); err != nil {
			return fmt.Errorf("failed to upload report %s: %w", report.RunID, err)
		}
	}

	return nil
}

// Render serializes the report into artifact files keyed by relative path
func Render(report Report) (map[string][]byte, error) {
	if report.Result == nil {
		return nil, fmt.Errorf("report %s has no result", report.RunID)
	}

	files := make(map[string][]byte)
	add := func(name string, v interface{}) error {
		data, err := json.MarshalIndent(v, "", "    ")
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", name, err)
		}
		files[name] = data
		return nil
	}

	if report.Config != nil {
		if err := add(ConfigFile, report.Config); err != nil {
			return nil, err
		}
	}
	if err := add(ResultsFile, report.Result); err != nil {
		return nil, err
	}

	if report.Inputs != nil {
		if err := add(ComparisonFile, Compare(report.Inputs, report.Result)); err != nil {
			return nil, err
		}

		dates := make([]string, len(report.Inputs.Dates))
		for i, d := range report.Inputs.Dates {
			dates[i] = d.Format("2006-01-02")
		}
		if err := add(InputsFile, inputsDocument{
			Assets:    report.Inputs.Assets,
			Dates:     dates,
			Expected:  report.Inputs.Exp,
			Variances: report.Inputs.Variances(),
			Cov:       report.Inputs.Cov,
		}); err != nil {
			return nil, err
		}
	}

	return files, nil
}

// Compare places the portfolio among its assets by expected return and variance
func Compare(inputs *marketdata.Inputs, result *optimization.Result) Comparison {
	variances := inputs.Variances()

	cmp := Comparison{
		Expected: make([]AssetStat, 0, len(inputs.Assets)+1),
		Variance: make([]AssetStat, 0, len(inputs.Assets)+1),
	}
	for i, asset := range inputs.Assets {
		cmp.Expected = append(cmp.Expected, AssetStat{Name: asset, Value: inputs.Exp[i]})
		cmp.Variance = append(cmp.Variance, AssetStat{Name: asset, Value: variances[i]})
	}
	cmp.Expected = append(cmp.Expected, AssetStat{Name: "portfolio", Value: result.ExpectedValue})
	cmp.Variance = append(cmp.Variance, AssetStat{Name: "portfolio", Value: result.Variance})

	sort.SliceStable(cmp.Expected, func(i, j int) bool { return cmp.Expected[i].Value > cmp.Expected[j].Value })
	sort.SliceStable(cmp.Variance, func(i, j int) bool { return cmp.Variance[i].Value < cmp.Variance[j].Value })

	return cmp
}

// WriteFiles writes rendered artifacts below dir, creating subdirectories
func WriteFiles(dir string, files map[string][]byte) error {
	for name, data := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", name, err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}
