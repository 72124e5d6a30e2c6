package service

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"battery-cost-forecast/internal/alerting"
	"battery-cost-forecast/internal/config"
	"battery-cost-forecast/internal/fetcher"
	"battery-cost-forecast/internal/metrics"
	"battery-cost-forecast/internal/scheduler"
	"battery-cost-forecast/internal/storage"
)

// Service orchestrates fetching, recomputation, persistence, and alerting.
type Service struct {
	pipeline  *Pipeline
	sources   []fetcher.QuoteSource
	scheduler *scheduler.Scheduler
	runs      storage.RunStore
	snapshots storage.SnapshotStore
	notifier  alerting.Notifier
	metrics   *metrics.Collector
	logger    zerolog.Logger

	threshold  decimal.Decimal
	channels   []string
	alertsOn   bool
	cooldown   *alerting.Cooldown
	locker     storage.AdvisoryLocker
	lockKey    int64
	runOnStart bool

	latest atomic.Pointer[Result]
}

// Deps groups the optional collaborators of a Service. Nil members disable
// the matching feature.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Runs      storage.RunStore
	Snapshots storage.SnapshotStore
	Notifier  alerting.Notifier
	Metrics   *metrics.Collector
}

// New constructs the recompute service.
func New(cfg *config.Config, pipeline *Pipeline, sources []fetcher.QuoteSource, deps Deps, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.ThresholdPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdPct)
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.Runs.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		pipeline:   pipeline,
		sources:    sources,
		scheduler:  deps.Scheduler,
		runs:       deps.Runs,
		snapshots:  deps.Snapshots,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		logger:     logger.With().Str("component", "service").Logger(),
		threshold:  threshold,
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		cooldown:   alerting.NewCooldown(cfg.Alerting.Cooldown),
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
		runOnStart: cfg.Scheduler.RunOnStart,
	}
}

// Latest returns the most recent successful result, or nil.
func (s *Service) Latest() *Result {
	return s.latest.Load()
}

// Run begins the scheduled recompute loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if s.runOnStart {
		if err := s.Tick(ctx, time.Now().UTC()); err != nil {
			s.logger.Error().Err(err).Msg("initial run failed")
		}
	}
	return s.scheduler.Run(ctx, s.Tick)
}

// Tick 执行一次完整重算, 其他实例持有锁时跳过。
func (s *Service) Tick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip run because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	_, err = s.Execute(ctx)
	return err
}

// Execute fetches quotes, runs the pipeline, persists the snapshot and
// dispatches alerts. Persistence and alert failures are logged, not returned.
func (s *Service) Execute(ctx context.Context) (*Result, error) {
	started := time.Now().UTC()
	run := storage.NewRun(started)
	if s.runs != nil {
		if err := s.runs.InsertRun(ctx, run); err != nil {
			s.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to record run start")
		}
	}

	quotes, failed := fetcher.Collect(ctx, s.sources, s.logger)
	for _, f := range failed {
		if s.metrics != nil {
			s.metrics.SourceFailures.WithLabelValues(f.Source).Inc()
		}
	}

	result, err := s.pipeline.Run(ctx, quotes)
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	if err != nil {
		msg := err.Error()
		run.Status = storage.RunStatusFailed
		run.Error = &msg
		s.finishRun(ctx, run)
		if s.metrics != nil {
			s.metrics.ObserveRun(storage.RunStatusFailed, finished.Sub(started), finished)
		}
		return nil, err
	}
	for _, f := range failed {
		result.addWarning("%s", f.Error())
	}

	run.Status = storage.RunStatusSuccess
	run.QuoteCount = result.QuoteCount
	run.RejectedCount = len(result.Rejected)
	run.MaterialCount = len(result.Forecasts)
	run.ChemistryCount = len(result.Monthly)
	run.Warnings = result.Warnings

	if s.snapshots != nil {
		if err := s.snapshots.ReplaceSnapshot(ctx, result.Snapshot(run)); err != nil {
			s.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to persist snapshot")
		}
	}
	s.finishRun(ctx, run)
	s.latest.Store(result)
	s.record(result, finished.Sub(started), finished)
	s.alert(ctx, run, result)

	s.logger.Info().Str("run_id", run.ID.String()).
		Dur("took", finished.Sub(started)).
		Int("warnings", len(result.Warnings)).
		Msg("run recorded")
	return result, nil
}

func (s *Service) finishRun(ctx context.Context, run storage.PipelineRun) {
	if s.runs == nil {
		return
	}
	if err := s.runs.FinishRun(ctx, run); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to record run outcome")
	}
}

func (s *Service) record(result *Result, took time.Duration, finished time.Time) {
	if s.metrics == nil {
		return
	}
	m := s.metrics
	m.ObserveRun(storage.RunStatusSuccess, took, finished)
	m.QuotesTotal.WithLabelValues("accepted").Add(float64(result.QuoteCount - len(result.Rejected)))
	m.QuotesTotal.WithLabelValues("rejected").Add(float64(len(result.Rejected)))
	for _, f := range result.Forecasts {
		if f.Err != nil {
			m.ForecastModels.WithLabelValues("none").Inc()
			continue
		}
		m.ForecastModels.WithLabelValues(string(f.ModelUsed)).Inc()
		if f.Clamped > 0 {
			m.ForecastClamped.Inc()
		}
		if f.Accuracy != nil {
			m.MAPE.WithLabelValues(f.MaterialID).Set(f.Accuracy.MAPE)
		}
	}
	first, ok := result.FirstForecastMonth()
	for chem, points := range result.Monthly {
		m.IncompleteMonths.WithLabelValues(chem).Set(float64(countIncomplete(points)))
		if !ok {
			continue
		}
		for _, p := range points {
			if p.Month.Equal(first) {
				m.ChemistryCost.WithLabelValues(chem).Set(p.CostUSDPerGWh)
				break
			}
		}
	}
}

func (s *Service) alert(ctx context.Context, run storage.PipelineRun, result *Result) {
	if !s.alertsOn || s.notifier == nil || s.threshold.IsZero() {
		return
	}
	moves := s.cooldown.Filter(alerting.DetectMoves(result.Monthly, s.threshold), result.GeneratedAt)
	if len(moves) == 0 {
		return
	}
	note := alerting.Notification{
		RunID:         run.ID.String(),
		GeneratedAt:   result.GeneratedAt,
		ThresholdPct:  s.threshold,
		Moves:         moves,
		FallbackCount: result.FallbackCount(),
		RejectedCount: len(result.Rejected),
		Channels:      s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
