package fetcher

import (
	"sort"
	"time"

	"battery-cost-forecast/internal/series"
)

// BaselineSourceName is the source label on baseline quotes.
const BaselineSourceName = "baseline"

// DefaultBaselines are fixed USD/ton prices for materials without a market feed.
func DefaultBaselines() map[string]float64 {
	return map[string]float64{
		"graphite_battery":  7000,
		"manganese_sulfate": 1100,
	}
}

// BaselineSource emits one fixed quote per month for each configured material.
// It needs a month range, so it is driven by the pipeline rather than Collect.
type BaselineSource struct {
	prices map[string]float64
}

// NewBaselineSource copies the price table.
func NewBaselineSource(prices map[string]float64) *BaselineSource {
	copied := make(map[string]float64, len(prices))
	for m, p := range prices {
		copied[m] = p
	}
	return &BaselineSource{prices: copied}
}

// QuotesFor returns baseline quotes for the wanted materials over [from, to].
// Materials without a baseline are ignored.
func (b *BaselineSource) QuotesFor(materials []string, from, to time.Time) []series.Quote {
	from, to = series.MonthOf(from), series.MonthOf(to)
	if to.Before(from) {
		return nil
	}

	wanted := append([]string(nil), materials...)
	sort.Strings(wanted)

	var quotes []series.Quote
	for _, material := range wanted {
		price, ok := b.prices[material]
		if !ok {
			continue
		}
		for m := from; !m.After(to); m = series.AddMonths(m, 1) {
			quotes = append(quotes, series.Quote{
				MaterialID: material,
				Timestamp:  m,
				RawValue:   price,
				Unit:       "t",
				Currency:   "USD",
				Source:     BaselineSourceName,
			})
		}
	}
	return quotes
}
