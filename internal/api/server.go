package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"battery-cost-forecast/internal/chemistry"
	"battery-cost-forecast/internal/sensitivity"
	"battery-cost-forecast/internal/service"
)

// ResultSource yields the latest successful pipeline result, or nil before
// the first run completes.
type ResultSource interface {
	Latest() *service.Result
}

// Options configure the HTTP server.
type Options struct {
	ListenAddr           string
	ReadTimeout          time.Duration
	SensitivityMagnitude float64
	// Metrics serves /metrics; nil leaves the route out.
	Metrics http.Handler
}

// Server exposes health, metrics and read-only views of the latest run.
type Server struct {
	app     *fiber.App
	opts    Options
	results ResultSource
	agg     *chemistry.Aggregator
	logger  zerolog.Logger
}

// New builds the fiber app and registers every route.
func New(opts Options, results ResultSource, agg *chemistry.Aggregator, logger zerolog.Logger) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.SensitivityMagnitude <= 0 {
		opts.SensitivityMagnitude = 0.10
	}

	s := &Server{
		app: fiber.New(fiber.Config{
			ReadTimeout:           opts.ReadTimeout,
			DisableStartupMessage: true,
		}),
		opts:    opts,
		results: results,
		agg:     agg,
		logger:  logger.With().Str("component", "api").Logger(),
	}

	s.app.Use(recover.New())
	s.app.Use(s.accessLog)

	s.app.Get("/health", s.health)
	if opts.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics))
	}

	v1 := s.app.Group("/api/v1")
	v1.Get("/run", s.latestRun)
	v1.Get("/accuracy", s.accuracy)
	v1.Get("/chemistries", s.chemistries)
	v1.Get("/chemistries/:id/costs", s.costs)
	v1.Get("/chemistries/:id/sensitivity", s.sensitivity)
	return s
}

// App exposes the fiber app, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.ListenAddr).Msg("http server listening")
		errCh <- s.app.Listen(s.opts.ListenAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("took", time.Since(start)).
		Msg("request served")
	return err
}

func (s *Server) health(c *fiber.Ctx) error {
	body := fiber.Map{"status": "ok", "time": time.Now().UTC().Unix()}
	if res := s.results.Latest(); res != nil {
		body["last_run"] = res.GeneratedAt
	}
	return c.JSON(body)
}

var errNoRun = errors.New("no completed run yet")

func (s *Server) latest(c *fiber.Ctx) (*service.Result, error) {
	res := s.results.Latest()
	if res == nil {
		return nil, c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": errNoRun.Error()})
	}
	return res, nil
}

func (s *Server) latestRun(c *fiber.Ctx) error {
	res, err := s.latest(c)
	if res == nil {
		return err
	}
	return c.JSON(runResponse{
		GeneratedAt: res.GeneratedAt,
		QuoteCount:  res.QuoteCount,
		Rejected:    len(res.Rejected),
		Sources:     res.Sources,
		Fallbacks:   res.FallbackCount(),
		Warnings:    nonNil(res.Warnings),
	})
}

func (s *Server) accuracy(c *fiber.Ctx) error {
	res, err := s.latest(c)
	if res == nil {
		return err
	}
	rows := make([]accuracyResponse, 0, len(res.Forecasts))
	for _, f := range res.Forecasts {
		row := accuracyResponse{
			MaterialID: f.MaterialID,
			ModelUsed:  string(f.ModelUsed),
			Source:     res.Sources[f.MaterialID],
		}
		if f.Accuracy != nil {
			mape := f.Accuracy.MAPE
			row.MAPE = &mape
			row.Folds = f.Accuracy.Folds
		}
		if f.FallbackReason != nil {
			row.FallbackReason = f.FallbackReason.Error()
		}
		rows = append(rows, row)
	}
	return c.JSON(rows)
}

func (s *Server) chemistries(c *fiber.Ctx) error {
	res, err := s.latest(c)
	if res == nil {
		return err
	}
	first, hasForecast := res.FirstForecastMonth()
	out := make([]chemistrySummary, 0, len(res.Monthly))
	for _, chem := range s.agg.Table().Chemistries() {
		summary := chemistrySummary{ChemistryID: chem}
		for _, p := range res.Monthly[chem] {
			if hasForecast && p.Month.Equal(first) {
				point := toCostResponse(p)
				summary.NextMonth = &point
			}
			if p.Incomplete {
				summary.IncompleteMonths++
			}
		}
		out = append(out, summary)
	}
	return c.JSON(out)
}

func (s *Server) costs(c *fiber.Ctx) error {
	res, err := s.latest(c)
	if res == nil {
		return err
	}
	chem := c.Params("id")
	points, ok := res.Monthly[chem]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown chemistry " + chem})
	}

	switch strings.ToLower(c.Query("granularity", "monthly")) {
	case "monthly":
		out := make([]costResponse, 0, len(points))
		for _, p := range points {
			out = append(out, toCostResponse(p))
		}
		return c.JSON(out)
	case "annual":
		annual := res.Annual[chem]
		out := make([]annualResponse, 0, len(annual))
		for _, a := range annual {
			out = append(out, annualResponse{
				Year:          a.Year,
				CostUSDPerGWh: a.CostUSDPerGWh,
				CostUSDPerKWh: a.CostUSDPerKWh,
				Months:        a.Months,
				Partial:       a.Partial,
				Incomplete:    a.Incomplete,
				HasForecast:   a.HasForecast,
			})
		}
		return c.JSON(out)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "granularity must be monthly or annual"})
	}
}

func (s *Server) sensitivity(c *fiber.Ctx) error {
	res, err := s.latest(c)
	if res == nil {
		return err
	}

	magnitude := s.opts.SensitivityMagnitude
	if raw := c.Query("magnitude"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || !(v > 0) || math.IsInf(v, 0) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "magnitude must be a positive number"})
		}
		magnitude = v
	}

	var month time.Time
	if raw := c.Query("month"); raw != "" {
		month, err = time.Parse("2006-01", raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "month must be YYYY-MM"})
		}
	}

	report, err := res.Sensitivity(s.agg, c.Params("id"), month, magnitude)
	if errors.Is(err, chemistry.ErrUnknownChemistry) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	if errors.Is(err, sensitivity.ErrInvalidMagnitude) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		s.logger.Error().Err(err).Str("chemistry", c.Params("id")).Msg("sensitivity failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	impacts := make([]impactResponse, 0, len(report.Impacts))
	for _, imp := range report.Impacts {
		impacts = append(impacts, impactResponse(imp))
	}
	return c.JSON(sensitivityResponse{
		ChemistryID:       report.ChemistryID,
		Month:             report.Month.Format("2006-01"),
		Magnitude:         report.Magnitude,
		BaseCostUSDPerGWh: report.BaseCostUSDPerGWh,
		Impacts:           impacts,
		Skipped:           nonNil(report.Skipped),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
