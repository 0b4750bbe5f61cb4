package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/gdportfolio/internal/modules/optimization"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GD_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("GD_PORT", "")
	t.Setenv("GD_SCHEDULE", "")
	t.Setenv("GD_S3_BUCKET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "data"), cfg.DataDir)
	assert.DirExists(t, cfg.DataDir)
	assert.Equal(t, 8001, cfg.Port)
	assert.False(t, cfg.S3.Enabled())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("GD_DATA_DIR", t.TempDir())
	t.Setenv("GD_PORT", "9100")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("GD_SCHEDULE", "0 0 6 * * 1")
	t.Setenv("GD_RUN_CONFIG", "/etc/gd/run.yaml")
	t.Setenv("GD_S3_BUCKET", "reports")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, "0 0 6 * * 1", cfg.Schedule)
	assert.True(t, cfg.S3.Enabled())
	assert.Equal(t, "reports", cfg.S3.Bucket)
}

func TestLoad_ScheduleRequiresRunConfig(t *testing.T) {
	t.Setenv("GD_DATA_DIR", t.TempDir())
	t.Setenv("GD_SCHEDULE", "@daily")
	t.Setenv("GD_RUN_CONFIG", "")

	_, err := Load()
	assert.Error(t, err)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadRunConfig_JSON(t *testing.T) {
	path := writeFile(t, "run.json", `{
		"tickers": {"VTI": "total market", "BND": "bonds", "GLD": "gold"},
		"fixed_rates": [{"label": "CD", "rate": 0.05, "months": 12}],
		"gd_cfg": {
			"losses": [
				{"type": "var"},
				{"type": "exp", "multiplier": 0.1, "label": "return"},
				{"type": "group", "indices": ["VTI", 2], "target": 0.6, "both_dirs": false}
			],
			"epochs": 500,
			"lr": 0.5
		},
		"output_path": "out",
		"dropna": false
	}`)

	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)

	assert.Equal(t, TickerList{"VTI", "BND", "GLD"}, cfg.Tickers)
	assert.Equal(t, []string{"VTI", "BND", "GLD", "CD"}, cfg.Assets())
	assert.Equal(t, []FixedRate{{Label: "CD", Rate: 0.05, Months: 12}}, cfg.FixedRates)
	assert.Equal(t, DefaultPeriod, cfg.Period)
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.False(t, cfg.DropMissing())
	assert.Equal(t, "out", cfg.OutputPath)

	require.Len(t, cfg.GD.Losses, 3)
	assert.Equal(t, []optimization.IndexRef{{Symbol: "VTI"}, {Position: 2}}, cfg.GD.Losses[2].Indices)
	assert.Equal(t, optimization.Options{Epochs: 500, LearningRate: 0.5}, cfg.GD.Options())

	terms, err := optimization.BuildLossTerms(cfg.GD.Losses, cfg.Assets())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, terms[2].Indices())
}

func TestLoadRunConfig_YAML(t *testing.T) {
	path := writeFile(t, "run.yaml", `
tickers:
  SPY: s&p 500
  AGG: aggregate bonds
gd_cfg:
  losses:
    - type: var
    - type: exp_l2
      target_exp: 0.01
      multiplier: 10
period: 2y
interval: 1wk
`)

	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)

	assert.Equal(t, TickerList{"SPY", "AGG"}, cfg.Tickers)
	assert.Equal(t, "2y", cfg.Period)
	assert.Equal(t, "1wk", cfg.Interval)
	assert.True(t, cfg.DropMissing())
	require.Len(t, cfg.GD.Losses, 2)
	require.NotNil(t, cfg.GD.Losses[1].TargetExp)
	assert.Equal(t, 0.01, *cfg.GD.Losses[1].TargetExp)
}

func TestLoadRunConfig_TickerList(t *testing.T) {
	path := writeFile(t, "run.yml", "tickers: [AAA, BBB]\ngd_cfg:\n  losses: [{type: var}]\n")
	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)
	assert.Equal(t, TickerList{"AAA", "BBB"}, cfg.Tickers)

	path = writeFile(t, "run.json", `{"tickers": ["AAA", "BBB"], "gd_cfg": {"losses": [{"type": "var"}]}}`)
	cfg, err = LoadRunConfig(path)
	require.NoError(t, err)
	assert.Equal(t, TickerList{"AAA", "BBB"}, cfg.Tickers)
}

func TestLoadRunConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"no assets", "a.json", `{"gd_cfg": {"losses": [{"type": "var"}]}}`},
		{"no losses", "b.json", `{"tickers": ["AAA"], "gd_cfg": {}}`},
		{"duplicate asset", "c.json", `{"tickers": ["AAA"], "fixed_rates": [{"label": "AAA", "rate": 0.01, "months": 1}], "gd_cfg": {"losses": [{"type": "var"}]}}`},
		{"zero months", "d.json", `{"tickers": ["AAA"], "fixed_rates": [{"label": "CD", "rate": 0.01, "months": 0}], "gd_cfg": {"losses": [{"type": "var"}]}}`},
		{"scalar tickers", "e.json", `{"tickers": "AAA", "gd_cfg": {"losses": [{"type": "var"}]}}`},
		{"scalar yaml tickers", "f.yaml", "tickers: AAA\ngd_cfg:\n  losses: [{type: var}]\n"},
		{"malformed", "g.json", `{"tickers": [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRunConfig(writeFile(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadRunConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
