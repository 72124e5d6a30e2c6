package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"battery-cost-forecast/internal/series"
)

var quoteColumns = []string{"material_id", "timestamp", "raw_value", "unit", "currency", "source"}

// CSVSource reads quotes from a file with a header row. The currency and
// source columns are optional.
type CSVSource struct {
	path   string
	source string
	logger zerolog.Logger
}

// NewCSVSource builds a CSV source. A non-empty source overrides the file's source column.
func NewCSVSource(path, source string, logger zerolog.Logger) *CSVSource {
	return &CSVSource{
		path:   path,
		source: strings.ToLower(strings.TrimSpace(source)),
		logger: logger.With().Str("component", "csv_source").Str("path", path).Logger(),
	}
}

// Name implements QuoteSource.
func (s *CSVSource) Name() string {
	if s.source != "" {
		return s.source
	}
	return "csv:" + s.path
}

// FetchQuotes implements QuoteSource.
func (s *CSVSource) FetchQuotes(ctx context.Context) ([]series.Quote, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open quotes: %w", err)
	}
	defer file.Close()

	quotes, skipped, err := ReadQuotes(file, s.source)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.logger.Warn().Int("skipped", skipped).Msg("跳过无法解析的报价行")
	}
	return quotes, nil
}

// ReadQuotes parses a quote CSV. Rows that cannot be parsed are skipped and
// counted; structural problems (missing header, missing required column) fail.
func ReadQuotes(r io.Reader, sourceOverride string) ([]series.Quote, int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("quotes csv: missing header")
		}
		return nil, 0, fmt.Errorf("quotes csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range quoteColumns[:4] {
		if _, ok := idx[col]; !ok {
			return nil, 0, fmt.Errorf("quotes csv: missing column %q", col)
		}
	}

	field := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var (
		quotes  []series.Quote
		skipped int
	)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		ts, err := ParseTimestamp(field(rec, "timestamp"))
		if err != nil {
			skipped++
			continue
		}
		value, err := decimal.NewFromString(field(rec, "raw_value"))
		if err != nil {
			skipped++
			continue
		}

		source := sourceOverride
		if source == "" {
			source = field(rec, "source")
		}
		quotes = append(quotes, series.Quote{
			MaterialID: field(rec, "material_id"),
			Timestamp:  ts,
			RawValue:   value.InexactFloat64(),
			Unit:       field(rec, "unit"),
			Currency:   field(rec, "currency"),
			Source:     source,
		})
	}
	return quotes, skipped, nil
}

var _ QuoteSource = (*CSVSource)(nil)
