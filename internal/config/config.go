package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"battery-cost-forecast/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Normalizer NormalizerConfig `mapstructure:"normalizer"`
	Series     SeriesConfig     `mapstructure:"series"`
	Forecast   ForecastConfig   `mapstructure:"forecast"`
	Intensity  IntensityConfig  `mapstructure:"intensity"`
	Scenario   ScenarioConfig   `mapstructure:"scenario"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables persistence.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(d.DSN) != ""
}

// SchedulerConfig governs recompute cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// SourcesConfig lists quote inputs and their precedence.
type SourcesConfig struct {
	Precedence []string           `mapstructure:"precedence"`
	CSV        []CSVSourceConfig  `mapstructure:"csv"`
	HTTP       []HTTPSourceConfig `mapstructure:"http"`
	Baselines  map[string]float64 `mapstructure:"baselines"`
}

// CSVSourceConfig is a quote file. Source overrides the per-row source column when set.
type CSVSourceConfig struct {
	Path   string `mapstructure:"path"`
	Source string `mapstructure:"source"`
}

// HTTPSourceConfig is a JSON quote endpoint.
type HTTPSourceConfig struct {
	Name           string        `mapstructure:"name"`
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// NormalizerConfig holds fixed FX rates to USD.
type NormalizerConfig struct {
	FXRates map[string]float64 `mapstructure:"fx_rates"`
}

// SeriesConfig controls resampling.
type SeriesConfig struct {
	// AlignStart back-fills every material to the earliest observed month.
	AlignStart bool `mapstructure:"align_start"`
}

// ForecastConfig mirrors forecast.Options.
type ForecastConfig struct {
	WindowMonths    int `mapstructure:"window_months"`
	HorizonMonths   int `mapstructure:"horizon_months"`
	MinObservations int `mapstructure:"min_observations"`
	Workers         int `mapstructure:"workers"`
}

// IntensityConfig points at the reference table.
type IntensityConfig struct {
	Path            string            `mapstructure:"path"`
	PackOverheadPct float64           `mapstructure:"pack_overhead_pct"`
	Aliases         map[string]string `mapstructure:"aliases"`
}

// ScenarioConfig holds preset location and sensitivity defaults.
type ScenarioConfig struct {
	File                 string  `mapstructure:"file"`
	SensitivityMagnitude float64 `mapstructure:"sensitivity_magnitude"`
}

// AlertingConfig defines the run summary alert.
type AlertingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// ThresholdPct is the month-over-month change in next-month chemistry
	// cost that triggers an alert.
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	Cooldown     time.Duration  `mapstructure:"cooldown"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets export behaviour.
type ExportConfig struct {
	Dir    string `mapstructure:"dir"`
	Charts bool   `mapstructure:"charts"`
	Excel  bool   `mapstructure:"excel"`
}

// MetricsConfig configures the HTTP listener serving /metrics, /health and
// the read-only API. An empty ListenAddr disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Namespace  string `mapstructure:"namespace"`
}

// Load builds configuration from file, environment, and defaults. A .env file
// in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("BATTERYCOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "batterycost")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x62617474))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("sources.precedence", []string{"primary", "fallback", "baseline"})
	v.SetDefault("sources.baselines", map[string]any{
		"graphite_battery":  7000.0,
		"manganese_sulfate": 1100.0,
	})

	// viper lower-cases map keys; the normalizer upper-cases them again.
	v.SetDefault("normalizer.fx_rates", map[string]any{
		"usd": 1.0,
		"cny": 0.14,
		"usc": 0.01,
	})

	v.SetDefault("series.align_start", false)

	v.SetDefault("forecast.window_months", 60)
	v.SetDefault("forecast.horizon_months", 120)
	v.SetDefault("forecast.min_observations", 6)
	v.SetDefault("forecast.workers", 4)

	v.SetDefault("intensity.path", "data/intensity_baseline.csv")
	v.SetDefault("intensity.pack_overhead_pct", 0.0)

	v.SetDefault("scenario.sensitivity_magnitude", 0.10)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 5.0)
	v.SetDefault("alerting.cooldown", "24h")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.dir", "out")
	v.SetDefault("export.charts", true)
	v.SetDefault("export.excel", true)

	v.SetDefault("metrics.namespace", "batterycost")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Forecast.HorizonMonths < 6 || c.Forecast.HorizonMonths > 120 {
		return fmt.Errorf("forecast.horizon_months must be between 6 and 120, got %d", c.Forecast.HorizonMonths)
	}
	if c.Forecast.WindowMonths <= 0 {
		return fmt.Errorf("forecast.window_months must be greater than zero")
	}
	if c.Forecast.MinObservations < 2 {
		return fmt.Errorf("forecast.min_observations must be at least 2")
	}
	if c.Forecast.Workers <= 0 {
		return fmt.Errorf("forecast.workers must be greater than zero")
	}
	for code, rate := range c.Normalizer.FXRates {
		if !(rate > 0) {
			return fmt.Errorf("normalizer.fx_rates.%s must be positive", code)
		}
	}
	for material, price := range c.Sources.Baselines {
		if price < 0 {
			return fmt.Errorf("sources.baselines.%s cannot be negative", material)
		}
	}
	for i, src := range c.Sources.HTTP {
		if strings.TrimSpace(src.URL) == "" {
			return fmt.Errorf("sources.http[%d].url must be set", i)
		}
	}
	if strings.TrimSpace(c.Intensity.Path) == "" {
		return fmt.Errorf("intensity.path must be set")
	}
	if c.Intensity.PackOverheadPct < 0 {
		return fmt.Errorf("intensity.pack_overhead_pct cannot be negative")
	}
	if !(c.Scenario.SensitivityMagnitude > 0) {
		return fmt.Errorf("scenario.sensitivity_magnitude must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveExportDir returns either the CLI override or config default.
func (c *Config) ResolveExportDir(override string) string {
	if override != "" {
		return override
	}
	return c.Export.Dir
}

// ResolveMagnitude returns either the CLI override or config default.
func (c *Config) ResolveMagnitude(override float64) float64 {
	if override > 0 {
		return override
	}
	return c.Scenario.SensitivityMagnitude
}
