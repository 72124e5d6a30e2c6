package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups the pipeline metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	QuotesTotal      *prometheus.CounterVec
	SourceFailures   *prometheus.CounterVec
	ForecastModels   *prometheus.CounterVec
	ForecastClamped  prometheus.Counter
	MAPE             *prometheus.GaugeVec
	ChemistryCost    *prometheus.GaugeVec
	IncompleteMonths *prometheus.GaugeVec
	LastSuccess      prometheus.Gauge
}

// New registers every collector under namespace.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "batterycost"
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Pipeline runs by outcome",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_run_duration_seconds",
				Help:      "Pipeline run duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		QuotesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quotes_total",
				Help:      "Quotes seen by the normalizer",
			},
			[]string{"outcome"},
		),
		SourceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_failures_total",
				Help:      "Quote sources that could not be read",
			},
			[]string{"source"},
		),
		ForecastModels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forecast_model_total",
				Help:      "Materials forecast per model",
			},
			[]string{"model"},
		),
		ForecastClamped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forecast_clamped_total",
				Help:      "Forecasts with at least one value clamped to zero",
			},
		),
		MAPE: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "forecast_mape_percent",
				Help:      "Walk-forward MAPE per material",
			},
			[]string{"material"},
		),
		ChemistryCost: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "chemistry_cost_usd_per_gwh",
				Help:      "Chemistry material cost at the first forecast month",
			},
			[]string{"chemistry"},
		),
		IncompleteMonths: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "chemistry_incomplete_months",
				Help:      "Months with at least one missing material price",
			},
			[]string{"chemistry"},
		),
		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run",
			},
		),
	}

	c.registry.MustRegister(
		c.RunsTotal,
		c.RunDuration,
		c.QuotesTotal,
		c.SourceFailures,
		c.ForecastModels,
		c.ForecastClamped,
		c.MAPE,
		c.ChemistryCost,
		c.IncompleteMonths,
		c.LastSuccess,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRun records a finished run.
func (c *Collector) ObserveRun(status string, took time.Duration, finished time.Time) {
	c.RunsTotal.WithLabelValues(status).Inc()
	c.RunDuration.Observe(took.Seconds())
	if status == "success" {
		c.LastSuccess.Set(float64(finished.Unix()))
	}
}
