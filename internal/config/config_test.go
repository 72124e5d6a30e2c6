package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Environment)
	assert.Equal(t, 60, cfg.Forecast.WindowMonths)
	assert.Equal(t, 120, cfg.Forecast.HorizonMonths)
	assert.Equal(t, 6, cfg.Forecast.MinObservations)
	assert.Equal(t, []string{"primary", "fallback", "baseline"}, cfg.Sources.Precedence)
	assert.Equal(t, 7000.0, cfg.Sources.Baselines["graphite_battery"])
	assert.InDelta(t, 0.14, cfg.Normalizer.FXRates["cny"], 1e-12)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.Interval)
	assert.False(t, cfg.Database.Enabled())
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
forecast:
  horizon_months: 24
  workers: 2
sources:
  precedence: [lme, baseline]
  csv:
    - path: data/quotes.csv
      source: lme
  http:
    - name: guest
      url: http://localhost:9999/quotes
      request_timeout: 3s
normalizer:
  fx_rates:
    USD: 1
    EUR: 1.08
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 24, cfg.Forecast.HorizonMonths)
	assert.Equal(t, []string{"lme", "baseline"}, cfg.Sources.Precedence)
	require.Len(t, cfg.Sources.CSV, 1)
	assert.Equal(t, "lme", cfg.Sources.CSV[0].Source)
	require.Len(t, cfg.Sources.HTTP, 1)
	assert.Equal(t, 3*time.Second, cfg.Sources.HTTP[0].RequestTimeout)
	assert.InDelta(t, 1.08, cfg.Normalizer.FXRates["eur"], 1e-12)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BATTERYCOST_FORECAST_WINDOW_MONTHS", "36")
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, 36, cfg.Forecast.WindowMonths)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, "{}\n"))
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"horizon too short", func(c *Config) { c.Forecast.HorizonMonths = 5 }},
		{"horizon too long", func(c *Config) { c.Forecast.HorizonMonths = 121 }},
		{"window zero", func(c *Config) { c.Forecast.WindowMonths = 0 }},
		{"workers zero", func(c *Config) { c.Forecast.Workers = 0 }},
		{"fx rate zero", func(c *Config) { c.Normalizer.FXRates["cny"] = 0 }},
		{"negative baseline", func(c *Config) { c.Sources.Baselines["graphite_battery"] = -1 }},
		{"no intensity", func(c *Config) { c.Intensity.Path = "" }},
		{"magnitude zero", func(c *Config) { c.Scenario.SensitivityMagnitude = 0 }},
		{"telegram without token", func(c *Config) { c.Alerting.Telegram.Enabled = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base().Validate())
}

func TestResolveOverrides(t *testing.T) {
	cfg := &Config{Export: ExportConfig{Dir: "out"}, Scenario: ScenarioConfig{SensitivityMagnitude: 0.1}}
	assert.Equal(t, "out", cfg.ResolveExportDir(""))
	assert.Equal(t, "tmp", cfg.ResolveExportDir("tmp"))
	assert.Equal(t, 0.1, cfg.ResolveMagnitude(0))
	assert.Equal(t, 0.25, cfg.ResolveMagnitude(0.25))
}
