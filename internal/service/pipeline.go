package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"battery-cost-forecast/internal/chemistry"
	"battery-cost-forecast/internal/fetcher"
	"battery-cost-forecast/internal/forecast"
	"battery-cost-forecast/internal/intensity"
	"battery-cost-forecast/internal/series"
)

// ErrNoIntensityTable is the only fatal pipeline condition.
var ErrNoIntensityTable = errors.New("service: intensity table missing or empty")

// PipelineOptions configure a Pipeline.
type PipelineOptions struct {
	// Precedence orders quote sources per material, highest first.
	Precedence []string
	// AlignStart back-fills every material to the earliest observed month.
	AlignStart bool
	// Aliases map quote material names onto intensity material ids.
	Aliases   map[string]string
	Baselines map[string]float64
	// Now stamps results; defaults to time.Now.
	Now func() time.Time
}

// Pipeline recomputes every derived table from a batch of quotes.
type Pipeline struct {
	opts       PipelineOptions
	normalizer series.Normalizer
	engine     *forecast.Engine
	agg        *chemistry.Aggregator
	baseline   *fetcher.BaselineSource
	aliases    map[string]string
	logger     zerolog.Logger
}

// NewPipeline wires the components. The aggregator's table must be non-empty.
func NewPipeline(opts PipelineOptions, normalizer series.Normalizer, engine *forecast.Engine, agg *chemistry.Aggregator, logger zerolog.Logger) (*Pipeline, error) {
	if agg == nil || agg.Table() == nil || len(agg.Table().Chemistries()) == 0 {
		return nil, ErrNoIntensityTable
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.Precedence) == 0 {
		opts.Precedence = []string{"primary", "fallback", fetcher.BaselineSourceName}
	}

	aliases := make(map[string]string, len(opts.Aliases))
	for from, to := range opts.Aliases {
		aliases[intensity.NormalizeName(from)] = intensity.NormalizeName(to)
	}

	return &Pipeline{
		opts:       opts,
		normalizer: normalizer,
		engine:     engine,
		agg:        agg,
		baseline:   fetcher.NewBaselineSource(opts.Baselines),
		aliases:    aliases,
		logger:     logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Aggregator exposes the cost aggregator for scenario and sensitivity views.
func (p *Pipeline) Aggregator() *chemistry.Aggregator {
	return p.agg
}

// Result holds every table produced by one run.
type Result struct {
	GeneratedAt time.Time
	QuoteCount  int
	Rejected    []series.Rejection
	// Sources records which quote source won precedence per material.
	Sources   map[string]string
	Forecasts []forecast.Result
	Panel     chemistry.Panel
	Monthly   map[string][]chemistry.CostPoint
	Annual    map[string][]chemistry.AnnualPoint
	Warnings  []string
}

// Run executes the pipeline. Per-quote and per-material problems become
// warnings; only context cancellation aborts.
func (p *Pipeline) Run(ctx context.Context, quotes []series.Quote) (*Result, error) {
	res := &Result{
		GeneratedAt: p.opts.Now().UTC(),
		QuoteCount:  len(quotes),
		Sources:     make(map[string]string),
	}

	canonical := make([]series.Quote, len(quotes))
	for i, q := range quotes {
		q.MaterialID = p.canonicalMaterial(q.MaterialID)
		canonical[i] = q
	}

	batch := series.NormalizeQuotes(canonical, p.normalizer)
	from, to, ok := batch.MonthRange()
	if !ok {
		from = series.MonthOf(res.GeneratedAt)
		to = from
	}
	baselineQuotes := p.baseline.QuotesFor(p.agg.Table().Materials(), from, to)
	if len(baselineQuotes) > 0 {
		batch = series.NormalizeQuotes(append(canonical, baselineQuotes...), p.normalizer)
	}

	res.Rejected = batch.Rejected
	for _, rej := range batch.Rejected {
		p.logger.Warn().Err(rej.Err).
			Str("material", rej.Quote.MaterialID).
			Str("source", rej.Quote.Source).
			Msg("quote rejected")
	}
	if n := len(batch.Rejected); n > 0 {
		res.addWarning("%d quotes rejected", n)
	}

	histories := make(map[string][]series.PricePoint)
	for _, sel := range batch.Select(p.opts.Precedence) {
		res.Sources[sel.MaterialID] = sel.Source
		if p.opts.AlignStart {
			histories[sel.MaterialID] = series.ResampleRange(sel.MaterialID, sel.Observations, from, to)
		} else {
			histories[sel.MaterialID] = series.Resample(sel.MaterialID, sel.Observations)
		}
	}
	for _, material := range p.agg.Table().Materials() {
		if _, ok := histories[material]; !ok {
			res.addWarning("no price series for %s", material)
		}
	}

	results, err := p.engine.ForecastAll(ctx, histories)
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}
	res.Forecasts = results

	timelines := make([][]forecast.Point, 0, len(results))
	for _, r := range results {
		switch {
		case r.Err != nil:
			res.addWarning("%s: %v", r.MaterialID, r.Err)
			continue
		case r.ModelUsed == forecast.ModelLinearFallback:
			res.addWarning("%s: linear fallback (%v)", r.MaterialID, r.FallbackReason)
		}
		if r.Clamped > 0 {
			res.addWarning("%s: %d forecast months clamped to zero", r.MaterialID, r.Clamped)
		}
		timelines = append(timelines, r.Timeline())
	}

	res.Panel = chemistry.NewPanel(timelines...)
	res.Monthly = p.agg.MonthlyAll(res.Panel)
	res.Annual = make(map[string][]chemistry.AnnualPoint, len(res.Monthly))
	for _, chem := range sortedKeys(res.Monthly) {
		points := res.Monthly[chem]
		res.Annual[chem] = chemistry.Annual(points)
		if n := countIncomplete(points); n > 0 {
			res.addWarning("%s: %d incomplete months", chem, n)
		}
	}

	p.logger.Info().
		Int("quotes", res.QuoteCount).
		Int("rejected", len(res.Rejected)).
		Int("materials", len(res.Forecasts)).
		Int("chemistries", len(res.Monthly)).
		Int("warnings", len(res.Warnings)).
		Msg("pipeline run complete")
	return res, nil
}

func (p *Pipeline) canonicalMaterial(raw string) string {
	name := intensity.NormalizeName(raw)
	if alias, ok := p.aliases[name]; ok {
		return alias
	}
	return name
}

func (r *Result) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func countIncomplete(points []chemistry.CostPoint) int {
	n := 0
	for _, p := range points {
		if p.Incomplete {
			n++
		}
	}
	return n
}

// FallbackCount counts materials forecast with the linear fallback.
func (r *Result) FallbackCount() int {
	n := 0
	for _, f := range r.Forecasts {
		if f.Err == nil && f.ModelUsed == forecast.ModelLinearFallback {
			n++
		}
	}
	return n
}

// FirstForecastMonth is the earliest month any material is forecast for.
func (r *Result) FirstForecastMonth() (time.Time, bool) {
	var (
		first time.Time
		ok    bool
	)
	for _, f := range r.Forecasts {
		if len(f.Forecast) == 0 {
			continue
		}
		m := f.Forecast[0].Month
		if !ok || m.Before(first) {
			first, ok = m, true
		}
	}
	return first, ok
}

// ForecastFor returns the forecast result of a material.
func (r *Result) ForecastFor(material string) (forecast.Result, bool) {
	material = strings.TrimSpace(material)
	for _, f := range r.Forecasts {
		if f.MaterialID == material {
			return f, true
		}
	}
	return forecast.Result{}, false
}
