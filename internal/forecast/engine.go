package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"battery-cost-forecast/internal/series"
)

// Options parameterise the forecast engine.
type Options struct {
	WindowMonths    int
	HorizonMonths   int
	MinObservations int
	Workers         int
}

func (o Options) withDefaults() Options {
	if o.WindowMonths <= 0 {
		o.WindowMonths = 60
	}
	if o.HorizonMonths <= 0 {
		o.HorizonMonths = 120
	}
	if o.MinObservations <= 0 {
		o.MinObservations = 6
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

// Point is one row of a material timeline. History and forecast rows share
// the same shape; ModelUsed is only set on forecast rows.
type Point struct {
	MaterialID     string
	Month          time.Time
	PriceUSDPerTon float64
	IsForecast     bool
	IsInterpolated bool
	Clamped        bool
	ModelUsed      ModelKind
}

// Accuracy is the walk-forward MAPE (in percent) of a material's model.
type Accuracy struct {
	MaterialID   string
	MAPE         float64
	WindowMonths int
	Folds        int
}

// Result bundles everything produced for one material.
type Result struct {
	MaterialID string
	History    []series.PricePoint
	Forecast   []Point
	ModelUsed  ModelKind
	// FallbackReason explains why the primary model was not used.
	FallbackReason error
	Accuracy       *Accuracy
	Clamped        int
	// Err is set when no forecast could be produced at all.
	Err error
}

// Timeline returns history followed by forecast as a single ordered series.
func (r Result) Timeline() []Point {
	points := make([]Point, 0, len(r.History)+len(r.Forecast))
	for _, h := range r.History {
		points = append(points, Point{
			MaterialID:     h.MaterialID,
			Month:          h.Month,
			PriceUSDPerTon: h.PriceUSDPerTon,
			IsInterpolated: h.IsInterpolated,
		})
	}
	return append(points, r.Forecast...)
}

// Option customises an Engine.
type Option func(*Engine)

// WithPrimary replaces the primary model.
func WithPrimary(m Model) Option {
	return func(e *Engine) { e.primary = m }
}

// WithFallback replaces the fallback model.
func WithFallback(m Model) Option {
	return func(e *Engine) { e.fallback = m }
}

// Engine fits a primary model per material and falls back to a linear trend.
type Engine struct {
	opts     Options
	primary  Model
	fallback Model
	logger   zerolog.Logger
}

// NewEngine constructs an Engine with ETS as primary and Linear as fallback.
func NewEngine(opts Options, logger zerolog.Logger, options ...Option) *Engine {
	e := &Engine{
		opts:     opts.withDefaults(),
		primary:  ETS{},
		fallback: Linear{},
		logger:   logger.With().Str("component", "forecast").Logger(),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Options reports the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

type prediction struct {
	values []float64
	kind   ModelKind
	reason error
}

// predict runs the two-stage strategy: primary first, fallback on any failure.
func (e *Engine) predict(y []float64, steps int) (prediction, error) {
	var reason error
	if len(y) < e.opts.MinObservations {
		reason = fmt.Errorf("%w: %d observations, need %d", ErrInsufficientData, len(y), e.opts.MinObservations)
	} else {
		values, err := fitAndForecast(e.primary, y, steps)
		if err == nil {
			return prediction{values: values, kind: e.primary.Kind()}, nil
		}
		reason = err
	}

	values, err := fitAndForecast(e.fallback, y, steps)
	if err != nil {
		return prediction{}, err
	}
	return prediction{values: values, kind: e.fallback.Kind(), reason: reason}, nil
}

func fitAndForecast(m Model, y []float64, steps int) ([]float64, error) {
	fitted, err := m.Fit(y)
	if err != nil {
		return nil, err
	}
	values, err := fitted.Forecast(steps)
	if err != nil {
		return nil, err
	}
	if len(values) != steps {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrModelFailure, steps, len(values))
	}
	if err := checkFinite(values); err != nil {
		return nil, err
	}
	return values, nil
}

// Forecast produces HorizonMonths points after the last history month plus a
// walk-forward accuracy metric. An empty history yields ErrInsufficientData
// and an empty result.
func (e *Engine) Forecast(materialID string, history []series.PricePoint) (Result, error) {
	result := Result{MaterialID: materialID, History: history}
	if len(history) == 0 {
		result.Err = fmt.Errorf("%w: no history for %s", ErrInsufficientData, materialID)
		return result, result.Err
	}

	train := history
	if len(train) > e.opts.WindowMonths {
		train = train[len(train)-e.opts.WindowMonths:]
	}

	pred, err := e.predict(prices(train), e.opts.HorizonMonths)
	if err != nil {
		result.Err = err
		return result, err
	}

	last := history[len(history)-1].Month
	result.ModelUsed = pred.kind
	result.FallbackReason = pred.reason
	result.Forecast = make([]Point, len(pred.values))
	for i, v := range pred.values {
		clamped := false
		if v < 0 {
			v = 0
			clamped = true
			result.Clamped++
		}
		result.Forecast[i] = Point{
			MaterialID:     materialID,
			Month:          series.AddMonths(last, i+1),
			PriceUSDPerTon: v,
			IsForecast:     true,
			Clamped:        clamped,
			ModelUsed:      pred.kind,
		}
	}

	result.Accuracy = e.walkForward(materialID, train)

	evt := e.logger.Debug().Str("material", materialID).Str("model", string(pred.kind)).Int("train", len(train))
	if pred.reason != nil {
		evt = evt.AnErr("fallback_reason", pred.reason)
	}
	evt.Msg("forecast built")

	return result, nil
}

// walkForward scores one-step-ahead predictions over an expanding prefix.
// Folds whose held-out month is interpolated or zero are skipped.
func (e *Engine) walkForward(materialID string, train []series.PricePoint) *Accuracy {
	start := e.opts.MinObservations
	if start < 2 {
		start = 2
	}

	total := 0.0
	folds := 0
	for t := start; t < len(train); t++ {
		actual := train[t]
		if actual.IsInterpolated || actual.PriceUSDPerTon == 0 {
			continue
		}
		pred, err := e.predict(prices(train[:t]), 1)
		if err != nil {
			continue
		}
		guess := math.Max(pred.values[0], 0)
		total += math.Abs(actual.PriceUSDPerTon-guess) / math.Abs(actual.PriceUSDPerTon)
		folds++
	}

	if folds < 2 {
		return nil
	}
	return &Accuracy{
		MaterialID:   materialID,
		MAPE:         total / float64(folds) * 100,
		WindowMonths: len(train),
		Folds:        folds,
	}
}

// ForecastAll forecasts every material concurrently with at most Workers
// goroutines. Results are ordered by material id and identical to sequential
// execution; per-material failures are reported on Result.Err.
func (e *Engine) ForecastAll(ctx context.Context, histories map[string][]series.PricePoint) ([]Result, error) {
	materials := make([]string, 0, len(histories))
	for m := range histories {
		materials = append(materials, m)
	}
	sort.Strings(materials)

	results := make([]Result, len(materials))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, material := range materials {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := e.Forecast(material, histories[material])
			if err != nil && !errors.Is(err, ErrInsufficientData) {
				e.logger.Warn().Err(err).Str("material", material).Msg("forecast failed")
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func prices(points []series.PricePoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.PriceUSDPerTon
	}
	return out
}
