package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aristath/gdportfolio/internal/modules/optimization"
)

// Run config defaults
const (
	DefaultPeriod   = "5y"
	DefaultInterval = "1mo"
)

// RunConfig describes a single optimization run: which tickers to download,
// which fixed-rate instruments to add and how to optimize.
type RunConfig struct {
	Tickers    TickerList  `json:"tickers" yaml:"tickers"`
	FixedRates []FixedRate `json:"fixed_rates,omitempty" yaml:"fixed_rates,omitempty"`
	GD         GDConfig    `json:"gd_cfg" yaml:"gd_cfg"`
	OutputPath string      `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	Period     string      `json:"period,omitempty" yaml:"period,omitempty"`
	Interval   string      `json:"interval,omitempty" yaml:"interval,omitempty"`
	DropNA     *bool       `json:"dropna,omitempty" yaml:"dropna,omitempty"`
}

// FixedRate is a synthetic asset with a known, constant return
type FixedRate struct {
	Label  string  `json:"label" yaml:"label"`
	Rate   float64 `json:"rate" yaml:"rate"`
	Months int     `json:"months" yaml:"months"`
}

// GDConfig holds the optimizer section of a run config
type GDConfig struct {
	Losses       []optimization.LossSpec `json:"losses" yaml:"losses"`
	Epochs       int                     `json:"epochs,omitempty" yaml:"epochs,omitempty"`
	LearningRate float64                 `json:"lr,omitempty" yaml:"lr,omitempty"`
}

// Options converts the optimizer section to optimizer options
func (g GDConfig) Options() optimization.Options {
	return optimization.Options{
		Epochs:       g.Epochs,
		LearningRate: g.LearningRate,
	}
}

// DropMissing reports whether dates missing for any ticker are dropped
// (the default) instead of filled with the column median.
func (c *RunConfig) DropMissing() bool {
	return c.DropNA == nil || *c.DropNA
}

// Assets returns tickers followed by fixed-rate labels, the order used for
// the covariance matrix.
func (c *RunConfig) Assets() []string {
	assets := make([]string, 0, len(c.Tickers)+len(c.FixedRates))
	assets = append(assets, c.Tickers...)
	for _, fr := range c.FixedRates {
		assets = append(assets, fr.Label)
	}
	return assets
}

// Validate fills defaults and checks the run config
func (c *RunConfig) Validate() error {
	if c.Period == "" {
		c.Period = DefaultPeriod
	}
	if c.Interval == "" {
		c.Interval = DefaultInterval
	}

	if len(c.Tickers) == 0 && len(c.FixedRates) == 0 {
		return fmt.Errorf("run config has no tickers or fixed rates")
	}
	if len(c.GD.Losses) == 0 {
		return fmt.Errorf("run config has no losses: %w", optimization.ErrMissingLossParameter)
	}

	seen := make(map[string]bool)
	for _, asset := range c.Assets() {
		if asset == "" {
			return fmt.Errorf("empty asset identifier")
		}
		if seen[asset] {
			return fmt.Errorf("duplicate asset %q", asset)
		}
		seen[asset] = true
	}

	for _, fr := range c.FixedRates {
		if fr.Months < 1 {
			return fmt.Errorf("fixed rate %q: months must be at least 1, got %d", fr.Label, fr.Months)
		}
		if fr.Rate <= -1 {
			return fmt.Errorf("fixed rate %q: rate must be greater than -1, got %v", fr.Label, fr.Rate)
		}
	}

	return nil
}

// LoadRunConfig reads a run config from a JSON or YAML file. The format is
// chosen by extension; anything other than .yaml/.yml is parsed as JSON.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run config: %w", err)
	}

	var cfg RunConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse run config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse run config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config %s: %w", path, err)
	}

	return &cfg, nil
}

// TickerList is an ordered list of ticker symbols. It decodes from either a
// list of symbols or a mapping whose keys are symbols; mapping order is kept.
type TickerList []string

// UnmarshalJSON implements json.Unmarshaler
func (t *TickerList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*t = nil
		return nil
	}

	if trimmed[0] == '[' {
		var list []string
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return fmt.Errorf("tickers: %w", err)
		}
		*t = list
		return nil
	}

	if trimmed[0] != '{' {
		return fmt.Errorf("tickers must be a list or an object")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("tickers: %w", err)
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("tickers: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("tickers: unexpected key %v", tok)
		}
		keys = append(keys, key)

		// Values are descriptive only.
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return fmt.Errorf("tickers: %w", err)
		}
	}

	*t = keys
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (t *TickerList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return fmt.Errorf("tickers: %w", err)
		}
		*t = list
	case yaml.MappingNode:
		keys := make([]string, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			keys = append(keys, node.Content[i].Value)
		}
		*t = keys
	default:
		return fmt.Errorf("tickers must be a list or a mapping (line %d)", node.Line)
	}
	return nil
}
