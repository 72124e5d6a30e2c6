package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battery-cost-forecast/internal/series"
	"battery-cost-forecast/internal/units"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestParseTimestamp(t *testing.T) {
	cases := map[string]time.Time{
		"2024-03-15T10:00:00Z": time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
		"2024-03-15":           time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		"2024-03":              time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		" 2024/03/15 ":         time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}
	for raw, want := range cases {
		got, err := ParseTimestamp(raw)
		require.NoError(t, err, raw)
		assert.True(t, want.Equal(got), "%s 解析结果 %s", raw, got)
	}

	_, err := ParseTimestamp("March 2024")
	assert.True(t, errors.Is(err, ErrBadTimestamp))
}

func TestReadQuotes(t *testing.T) {
	body := `material_id,timestamp,raw_value,unit,currency,source
nickel,2024-01-15,16500,t,USD,primary
cobalt,2024-01,15.2,lb,USD,fallback
lithium_carbonate,not-a-date,100000,t,CNY,primary
lithium_carbonate,2024-02-01,abc,t,CNY,primary
copper,2024-02-01,410,USD/lb,,primary
`
	quotes, skipped, err := ReadQuotes(strings.NewReader(body), "")
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, quotes, 3)

	assert.Equal(t, "nickel", quotes[0].MaterialID)
	assert.Equal(t, 16500.0, quotes[0].RawValue)
	assert.Equal(t, "primary", quotes[0].Source)
	assert.Equal(t, "fallback", quotes[1].Source)
	assert.Equal(t, "USD/lb", quotes[2].Unit)
	assert.Equal(t, "", quotes[2].Currency)
}

func TestReadQuotesOverrideAndMissingColumns(t *testing.T) {
	quotes, _, err := ReadQuotes(strings.NewReader("material_id,timestamp,raw_value,unit\nnickel,2024-01,1,t\n"), "lme")
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "lme", quotes[0].Source)

	_, _, err = ReadQuotes(strings.NewReader("material_id,timestamp\n"), "")
	assert.Error(t, err)

	_, _, err = ReadQuotes(strings.NewReader(""), "")
	assert.Error(t, err)
}

func TestCSVSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotes.csv")
	require.NoError(t, os.WriteFile(path, []byte("material_id,timestamp,raw_value,unit,currency,source\nnickel,2024-01,1,t,USD,x\n"), 0o600))

	src := NewCSVSource(path, "Primary", noopLogger())
	assert.Equal(t, "primary", src.Name())
	quotes, err := src.FetchQuotes(context.Background())
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "primary", quotes[0].Source)

	_, err = NewCSVSource(filepath.Join(t.TempDir(), "missing.csv"), "", noopLogger()).FetchQuotes(context.Background())
	assert.Error(t, err)
}

func TestHTTPSourceSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"quotes": []map[string]any{
				{"material_id": "nickel", "timestamp": "2024-05-01", "raw_value": 17250.5, "unit": "t", "currency": "USD"},
				{"material_id": "cobalt", "timestamp": "2024-05", "raw_value": "14.75", "unit": "lb", "currency": "USD", "source": "guest"},
				{"material_id": "copper", "timestamp": "yesterday", "raw_value": 1, "unit": "t"},
			},
		})
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPOptions{Name: "Fallback", URL: srv.URL, Timeout: time.Second, UserAgent: "test-agent"}, noopLogger())
	quotes, err := src.FetchQuotes(context.Background())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	require.Len(t, quotes, 2)
	assert.Equal(t, "fallback", quotes[0].Source)
	assert.Equal(t, 17250.5, quotes[0].RawValue)
	assert.Equal(t, "guest", quotes[1].Source)
	assert.Equal(t, 14.75, quotes[1].RawValue)
}

func TestHTTPSourceDropsMissingRawValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"quotes":[
			{"material_id":"nickel","timestamp":"2024-01","unit":"t","currency":"USD"},
			{"material_id":"nickel","timestamp":"2024-01","raw_value":null,"unit":"t","currency":"USD"},
			{"material_id":"nickel","timestamp":"2024-01","raw_value":20000,"unit":"t","currency":"USD"}
		]}`))
	}))
	defer srv.Close()

	quotes, err := NewHTTPSource(HTTPOptions{Name: "primary", URL: srv.URL, Timeout: time.Second}, noopLogger()).FetchQuotes(context.Background())
	require.NoError(t, err)
	require.Len(t, quotes, 1, "缺少 raw_value 的报价应被丢弃")
	assert.Equal(t, 20000.0, quotes[0].RawValue)

	batch := series.NormalizeQuotes(quotes, units.NewNormalizer(units.DefaultFXRates()))
	assert.Empty(t, batch.Rejected)
	selections := batch.Select([]string{"primary"})
	require.Len(t, selections, 1)
	points := series.Resample("nickel", selections[0].Observations)
	require.Len(t, points, 1)
	assert.Equal(t, 20000.0, points[0].PriceUSDPerTon)
}

func TestHTTPSourceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "maintenance"})
	}))
	defer srv.Close()

	_, err := NewHTTPSource(HTTPOptions{URL: srv.URL, Timeout: time.Second}, noopLogger()).FetchQuotes(context.Background())
	require.Error(t, err, "HTTP 503 应返回错误")
	assert.Contains(t, err.Error(), "maintenance")
}

func TestHTTPSourceMissingURL(t *testing.T) {
	_, err := NewHTTPSource(HTTPOptions{}, noopLogger()).FetchQuotes(context.Background())
	assert.Error(t, err, "未配置 URL 时应报错")
}

type stubSource struct {
	name   string
	quotes []series.Quote
	err    error
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) FetchQuotes(context.Context) ([]series.Quote, error) {
	return s.quotes, s.err
}

func TestCollectIsolatesFailingSource(t *testing.T) {
	boom := errors.New("boom")
	quotes, failed := Collect(context.Background(), []QuoteSource{
		stubSource{name: "primary", err: boom},
		stubSource{name: "fallback", quotes: []series.Quote{{MaterialID: "nickel"}}},
	}, noopLogger())

	require.Len(t, quotes, 1)
	require.Len(t, failed, 1)
	assert.Equal(t, "primary", failed[0].Source)
	assert.True(t, errors.Is(failed[0], boom))
}

func TestBaselineQuotesFor(t *testing.T) {
	src := NewBaselineSource(DefaultBaselines())
	from := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	quotes := src.QuotesFor([]string{"nickel", "manganese_sulfate"}, from, to)
	require.Len(t, quotes, 3)
	for _, q := range quotes {
		assert.Equal(t, "manganese_sulfate", q.MaterialID)
		assert.Equal(t, BaselineSourceName, q.Source)
		assert.Equal(t, 1100.0, q.RawValue)
	}
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), quotes[2].Timestamp)

	assert.Empty(t, src.QuotesFor([]string{"graphite_battery"}, to, from))
}
