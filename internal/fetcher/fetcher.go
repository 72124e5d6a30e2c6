package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"battery-cost-forecast/internal/series"
)

// ErrBadTimestamp is returned for timestamps in none of the accepted layouts.
var ErrBadTimestamp = errors.New("fetcher: unrecognised timestamp")

// QuoteSource hands raw quotes to the pipeline. Quotes carry no ordering guarantee.
type QuoteSource interface {
	Name() string
	FetchQuotes(ctx context.Context) ([]series.Quote, error)
}

// SourceError records a source that could not be read.
type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e SourceError) Unwrap() error { return e.Err }

// Collect reads every source in order. A failing source is logged and
// reported but does not stop the others.
func Collect(ctx context.Context, sources []QuoteSource, logger zerolog.Logger) ([]series.Quote, []SourceError) {
	log := logger.With().Str("component", "fetcher").Logger()

	var (
		quotes []series.Quote
		failed []SourceError
	)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			failed = append(failed, SourceError{Source: src.Name(), Err: err})
			continue
		}
		got, err := src.FetchQuotes(ctx)
		if err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Msg("quote source failed")
			failed = append(failed, SourceError{Source: src.Name(), Err: err})
			continue
		}
		log.Debug().Str("source", src.Name()).Int("quotes", len(got)).Msg("quotes fetched")
		quotes = append(quotes, got...)
	}
	return quotes, failed
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006/01/02",
}

// ParseTimestamp accepts RFC3339, YYYY-MM-DD and YYYY-MM. Zone-less values are UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, raw)
}
