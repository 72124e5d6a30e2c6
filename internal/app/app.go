package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"battery-cost-forecast/internal/alerting"
	"battery-cost-forecast/internal/api"
	"battery-cost-forecast/internal/chemistry"
	"battery-cost-forecast/internal/config"
	"battery-cost-forecast/internal/fetcher"
	"battery-cost-forecast/internal/forecast"
	"battery-cost-forecast/internal/intensity"
	"battery-cost-forecast/internal/metrics"
	"battery-cost-forecast/internal/scenario"
	"battery-cost-forecast/internal/scheduler"
	"battery-cost-forecast/internal/service"
	"battery-cost-forecast/internal/storage"
	"battery-cost-forecast/internal/units"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives tables printed by show, scenario and sensitivity.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) aliases() map[string]string {
	aliases := intensity.DefaultAliases()
	for from, to := range a.Config.Intensity.Aliases {
		aliases[from] = to
	}
	return aliases
}

func (a *App) newNormalizer() *units.Normalizer {
	fx := make(map[string]float64, len(a.Config.Normalizer.FXRates))
	for code, rate := range a.Config.Normalizer.FXRates {
		fx[strings.ToUpper(code)] = rate
	}
	if len(fx) == 0 {
		fx = units.DefaultFXRates()
	}
	return units.NewNormalizer(fx)
}

func (a *App) newPipeline() (*service.Pipeline, error) {
	table, err := intensity.Load(a.Config.Intensity.Path, a.aliases())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", service.ErrNoIntensityTable, err)
	}

	engine := forecast.NewEngine(forecast.Options{
		WindowMonths:    a.Config.Forecast.WindowMonths,
		HorizonMonths:   a.Config.Forecast.HorizonMonths,
		MinObservations: a.Config.Forecast.MinObservations,
		Workers:         a.Config.Forecast.Workers,
	}, a.Logger)

	baselines := a.Config.Sources.Baselines
	if baselines == nil {
		baselines = fetcher.DefaultBaselines()
	}

	return service.NewPipeline(service.PipelineOptions{
		Precedence: a.Config.Sources.Precedence,
		AlignStart: a.Config.Series.AlignStart,
		Aliases:    a.aliases(),
		Baselines:  baselines,
	}, a.newNormalizer(), engine, chemistry.NewAggregator(table, a.Config.Intensity.PackOverheadPct), a.Logger)
}

func (a *App) newSources() []fetcher.QuoteSource {
	var sources []fetcher.QuoteSource
	for _, c := range a.Config.Sources.CSV {
		sources = append(sources, fetcher.NewCSVSource(c.Path, c.Source, a.Logger))
	}
	for _, h := range a.Config.Sources.HTTP {
		sources = append(sources, fetcher.NewHTTPSource(fetcher.HTTPOptions{
			Name:      h.Name,
			URL:       h.URL,
			Timeout:   h.RequestTimeout,
			UserAgent: h.UserAgent,
		}, a.Logger))
	}
	return sources
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if !a.Config.Database.Enabled() {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) loadCatalog() (*scenario.Catalog, error) {
	if strings.TrimSpace(a.Config.Scenario.File) == "" {
		return scenario.NewCatalog(), nil
	}
	return scenario.LoadFile(a.Config.Scenario.File)
}

// newService wires a service without a scheduler. store may be nil.
func (a *App) newService(store *storage.Store, sched *scheduler.Scheduler, collector *metrics.Collector) (*service.Service, *service.Pipeline, error) {
	pipeline, err := a.newPipeline()
	if err != nil {
		return nil, nil, err
	}

	deps := service.Deps{
		Scheduler: sched,
		Notifier:  a.newNotifier(),
		Metrics:   collector,
	}
	if store != nil {
		deps.Runs = store
		deps.Snapshots = store
	}
	return service.New(a.Config, pipeline, a.newSources(), deps, a.Logger), pipeline, nil
}

// compute runs the pipeline once against the configured sources without
// touching storage or alerting.
func (a *App) compute(ctx context.Context) (*service.Result, *service.Pipeline, error) {
	pipeline, err := a.newPipeline()
	if err != nil {
		return nil, nil, err
	}
	quotes, failed := fetcher.Collect(ctx, a.newSources(), a.Logger)
	res, err := pipeline.Run(ctx, quotes)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range failed {
		res.Warnings = append(res.Warnings, f.Error())
	}
	return res, pipeline, nil
}

// Run executes the long-running recompute service together with the HTTP
// listener when metrics.listen_addr is set.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return err
	}

	collector := metrics.New(a.Config.Metrics.Namespace)
	svc, pipeline, err := a.newService(store, sched, collector)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	if addr := strings.TrimSpace(a.Config.Metrics.ListenAddr); addr != "" {
		server := api.New(api.Options{
			ListenAddr:           addr,
			SensitivityMagnitude: a.Config.Scenario.SensitivityMagnitude,
			Metrics:              collector.Handler(),
		}, svc, pipeline.Aggregator(), a.Logger)
		g.Go(func() error { return server.Run(gctx) })
	}

	a.Logger.Info().Msg("starting recompute service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("recompute service stopped")
	return nil
}

// BuildOptions configure a one-shot build.
type BuildOptions struct {
	ExportDir string
	NoExport  bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	// What is one of costs, annual, accuracy or runs.
	What      string
	Chemistry string
	Limit     int
	// Persisted reads the last stored snapshot instead of recomputing.
	Persisted bool
}

// ScenarioOptions select a preset or ad-hoc adjustments.
type ScenarioOptions struct {
	Preset    string
	Shock     []string
	Recycling []string
	Duty      []string
	ExportDir string
}

// SensitivityOptions configure the tornado command.
type SensitivityOptions struct {
	Chemistry string
	// Month is YYYY-MM; empty selects the first forecast month.
	Month     string
	Magnitude float64
	ExportDir string
}

// ExportOptions configure a full export.
type ExportOptions struct {
	Dir       string
	Scenarios []string
	Magnitude float64
}
