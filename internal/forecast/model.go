package forecast

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInsufficientData is returned when a series is too short to model.
	ErrInsufficientData = errors.New("forecast: insufficient data")
	// ErrModelFailure wraps any numerical failure of a fitted model.
	ErrModelFailure = errors.New("forecast: model failure")
)

// ModelKind identifies the strategy that produced a forecast.
type ModelKind string

const (
	// ModelETS is Holt's additive-trend exponential smoothing.
	ModelETS ModelKind = "ETS"
	// ModelLinearFallback is the least-squares trend used when ETS cannot run.
	ModelLinearFallback ModelKind = "linear_fallback"
)

// Model fits a training series and returns a fitted predictor.
type Model interface {
	Kind() ModelKind
	Fit(y []float64) (Fitted, error)
}

// Fitted produces point forecasts for the steps following the training data.
type Fitted interface {
	Forecast(steps int) ([]float64, error)
}

// ETS is an additive-trend, non-seasonal exponential smoothing model. The
// smoothing parameters are chosen by an exhaustive grid search over one-step
// squared error so the fit is fully deterministic.
type ETS struct {
	// GridSteps controls the resolution of the alpha/beta search (default 20).
	GridSteps int
}

// Kind implements Model.
func (ETS) Kind() ModelKind { return ModelETS }

// Fit implements Model.
func (e ETS) Fit(y []float64) (Fitted, error) {
	if len(y) < 3 {
		return nil, fmt.Errorf("%w: ets needs at least 3 points, got %d", ErrInsufficientData, len(y))
	}
	if err := checkFinite(y); err != nil {
		return nil, err
	}
	if isConstant(y) {
		return nil, fmt.Errorf("%w: degenerate variance", ErrModelFailure)
	}

	steps := e.GridSteps
	if steps <= 1 {
		steps = 20
	}

	best := holtFit{sse: math.Inf(1)}
	for i := 1; i < steps; i++ {
		alpha := float64(i) / float64(steps)
		for j := 1; j < steps; j++ {
			beta := float64(j) / float64(steps)
			fit := runHolt(y, alpha, beta)
			if fit.sse < best.sse {
				best = fit
			}
		}
	}

	if math.IsInf(best.sse, 0) || math.IsNaN(best.sse) {
		return nil, fmt.Errorf("%w: smoothing did not converge", ErrModelFailure)
	}
	return best, nil
}

type holtFit struct {
	alpha, beta  float64
	level, trend float64
	sse          float64
}

func runHolt(y []float64, alpha, beta float64) holtFit {
	level := y[0]
	trend := y[1] - y[0]
	sse := 0.0
	for t := 1; t < len(y); t++ {
		pred := level + trend
		diff := y[t] - pred
		sse += diff * diff
		next := alpha*y[t] + (1-alpha)*(level+trend)
		trend = beta*(next-level) + (1-beta)*trend
		level = next
	}
	return holtFit{alpha: alpha, beta: beta, level: level, trend: trend, sse: sse}
}

// Forecast implements Fitted.
func (h holtFit) Forecast(steps int) ([]float64, error) {
	out := make([]float64, steps)
	for i := range out {
		out[i] = h.level + float64(i+1)*h.trend
	}
	if err := checkFinite(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Linear fits an ordinary least-squares trend and extrapolates it. A single
// observation extrapolates flat, so the fit never fails on non-empty input.
type Linear struct{}

// Kind implements Model.
func (Linear) Kind() ModelKind { return ModelLinearFallback }

// Fit implements Model.
func (Linear) Fit(y []float64) (Fitted, error) {
	if len(y) == 0 {
		return nil, fmt.Errorf("%w: empty training set", ErrInsufficientData)
	}
	if err := checkFinite(y); err != nil {
		return nil, err
	}
	if len(y) == 1 {
		return linearFit{intercept: y[0], n: 1}, nil
	}

	n := float64(len(y))
	var sumX, sumY float64
	for i, v := range y {
		sumX += float64(i)
		sumY += v
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy float64
	for i, v := range y {
		dx := float64(i) - meanX
		sxx += dx * dx
		sxy += dx * (v - meanY)
	}
	slope := sxy / sxx
	return linearFit{intercept: meanY - slope*meanX, slope: slope, n: len(y)}, nil
}

type linearFit struct {
	intercept, slope float64
	n                int
}

// Forecast implements Fitted.
func (l linearFit) Forecast(steps int) ([]float64, error) {
	out := make([]float64, steps)
	for i := range out {
		out[i] = l.intercept + l.slope*float64(l.n+i)
	}
	if err := checkFinite(out); err != nil {
		return nil, err
	}
	return out, nil
}

func checkFinite(values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value at %d", ErrModelFailure, i)
		}
	}
	return nil
}

func isConstant(y []float64) bool {
	for _, v := range y[1:] {
		if v != y[0] {
			return false
		}
	}
	return true
}
