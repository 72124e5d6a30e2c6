package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"battery-cost-forecast/internal/series"
	"battery-cost-forecast/internal/version"
)

// HTTPOptions parameterise the JSON quote endpoint.
type HTTPOptions struct {
	Name      string
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// HTTPSource fetches quotes from a JSON endpoint returning {"quotes": [...]}.
type HTTPSource struct {
	opts   HTTPOptions
	logger zerolog.Logger
	client *resty.Client
}

// NewHTTPSource constructs an HTTP quote source.
func NewHTTPSource(opts HTTPOptions, logger zerolog.Logger) *HTTPSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if strings.TrimSpace(opts.Name) == "" {
		opts.Name = "http"
	}
	opts.Name = strings.ToLower(opts.Name)

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		client.SetHeader("User-Agent", ua)
	} else {
		client.SetHeader("User-Agent", version.UserAgent())
	}

	return &HTTPSource{
		opts:   opts,
		logger: logger.With().Str("component", "http_source").Str("source", opts.Name).Logger(),
		client: client,
	}
}

// Name implements QuoteSource.
func (s *HTTPSource) Name() string {
	return s.opts.Name
}

// FetchQuotes implements QuoteSource. Entries with unparseable timestamps or
// without a raw_value are dropped; the source name fills in entries that omit one.
func (s *HTTPSource) FetchQuotes(ctx context.Context) ([]series.Quote, error) {
	if strings.TrimSpace(s.opts.URL) == "" {
		return nil, fmt.Errorf("quote endpoint url not configured")
	}

	resp, err := s.client.R().SetContext(ctx).Get(s.opts.URL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode(), resp.Body())
	}

	var payload quotesResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}

	quotes := make([]series.Quote, 0, len(payload.Quotes))
	dropped := 0
	for _, q := range payload.Quotes {
		ts, err := ParseTimestamp(q.Timestamp)
		if err != nil || !q.RawValue.Valid {
			dropped++
			continue
		}
		source := strings.TrimSpace(q.Source)
		if source == "" {
			source = s.opts.Name
		}
		quotes = append(quotes, series.Quote{
			MaterialID: q.MaterialID,
			Timestamp:  ts,
			RawValue:   q.RawValue.Decimal.InexactFloat64(),
			Unit:       q.Unit,
			Currency:   q.Currency,
			Source:     source,
		})
	}
	if dropped > 0 {
		s.logger.Warn().Int("dropped", dropped).Msg("跳过时间戳无效或缺少 raw_value 的报价")
	}
	return quotes, nil
}

type quotesResponse struct {
	Quotes []quotePayload `json:"quotes"`
}

// raw_value may arrive as a JSON number or a quoted string. Absent and null
// both leave it invalid.
type quotePayload struct {
	MaterialID string              `json:"material_id"`
	Timestamp  string              `json:"timestamp"`
	RawValue   decimal.NullDecimal `json:"raw_value"`
	Unit       string              `json:"unit"`
	Currency   string              `json:"currency"`
	Source     string              `json:"source"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("quote api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("quote api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("quote api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("quote api error (%d)", status)
}

var _ QuoteSource = (*HTTPSource)(nil)
