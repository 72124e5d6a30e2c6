package series

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"battery-cost-forecast/internal/units"
)

// ErrInvalidQuote marks quotes that cannot be normalised regardless of unit.
var ErrInvalidQuote = errors.New("series: invalid quote")

// Normalizer converts raw quote values into USD/ton.
type Normalizer interface {
	Normalize(value float64, unit, currency string) (float64, error)
}

// Rejection records a quote excluded from the batch together with the reason.
type Rejection struct {
	Quote Quote
	Err   error
}

// Batch groups normalised observations per material and per source.
type Batch struct {
	bySource map[string]map[string][]Observation
	Rejected []Rejection
}

// NormalizeQuotes normalises every quote independently. A quote that fails is
// recorded in Rejected and never aborts the batch.
func NormalizeQuotes(quotes []Quote, n Normalizer) Batch {
	batch := Batch{bySource: make(map[string]map[string][]Observation)}
	for _, q := range quotes {
		obs, err := normalizeQuote(q, n)
		if err != nil {
			batch.Rejected = append(batch.Rejected, Rejection{Quote: q, Err: err})
			continue
		}
		material := strings.TrimSpace(q.MaterialID)
		source := strings.ToLower(strings.TrimSpace(q.Source))
		if batch.bySource[material] == nil {
			batch.bySource[material] = make(map[string][]Observation)
		}
		batch.bySource[material][source] = append(batch.bySource[material][source], obs)
	}
	return batch
}

func normalizeQuote(q Quote, n Normalizer) (Observation, error) {
	if strings.TrimSpace(q.MaterialID) == "" {
		return Observation{}, fmt.Errorf("%w: empty material id", ErrInvalidQuote)
	}
	if q.Timestamp.IsZero() {
		return Observation{}, fmt.Errorf("%w: missing timestamp", ErrInvalidQuote)
	}
	if math.IsNaN(q.RawValue) || math.IsInf(q.RawValue, 0) || q.RawValue < 0 {
		return Observation{}, fmt.Errorf("%w: value %v", ErrInvalidQuote, q.RawValue)
	}

	unit, currency := q.Unit, q.Currency
	if strings.TrimSpace(currency) == "" {
		currency, unit = units.ParseUnit(q.Unit)
		if currency == "" {
			currency = "USD"
		}
	}

	price, err := n.Normalize(q.RawValue, unit, currency)
	if err != nil {
		return Observation{}, err
	}
	return Observation{Month: MonthOf(q.Timestamp), Price: price}, nil
}

// Materials lists materials with at least one valid observation.
func (b Batch) Materials() []string {
	materials := make([]string, 0, len(b.bySource))
	for m := range b.bySource {
		materials = append(materials, m)
	}
	sort.Strings(materials)
	return materials
}

// Sources lists sources that supplied valid observations for a material.
func (b Batch) Sources(material string) []string {
	sources := make([]string, 0, len(b.bySource[material]))
	for s := range b.bySource[material] {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}

// Add appends observations for a material under the given source.
func (b *Batch) Add(material, source string, obs ...Observation) {
	if b.bySource == nil {
		b.bySource = make(map[string]map[string][]Observation)
	}
	source = strings.ToLower(strings.TrimSpace(source))
	if b.bySource[material] == nil {
		b.bySource[material] = make(map[string][]Observation)
	}
	b.bySource[material][source] = append(b.bySource[material][source], obs...)
}

// MonthRange reports the earliest and latest observed month across all materials.
func (b Batch) MonthRange() (from, to time.Time, ok bool) {
	for _, bySource := range b.bySource {
		for _, obs := range bySource {
			for _, o := range obs {
				m := MonthOf(o.Month)
				if !ok || m.Before(from) {
					from = m
				}
				if !ok || m.After(to) {
					to = m
				}
				ok = true
			}
		}
	}
	return from, to, ok
}

// Selection is the outcome of applying source precedence to one material.
type Selection struct {
	MaterialID   string
	Source       string
	Observations []Observation
}

// Select picks, per material, the observations of the highest-precedence
// source that supplied any. Sources missing from precedence rank after the
// listed ones in lexical order.
func (b Batch) Select(precedence []string) []Selection {
	rank := make(map[string]int, len(precedence))
	for i, s := range precedence {
		rank[strings.ToLower(strings.TrimSpace(s))] = i
	}

	selections := make([]Selection, 0, len(b.bySource))
	for _, material := range b.Materials() {
		sources := b.Sources(material)
		sort.SliceStable(sources, func(i, j int) bool {
			ri, okI := rank[sources[i]]
			rj, okJ := rank[sources[j]]
			switch {
			case okI && okJ:
				return ri < rj
			case okI != okJ:
				return okI
			default:
				return sources[i] < sources[j]
			}
		})
		chosen := sources[0]
		selections = append(selections, Selection{
			MaterialID:   material,
			Source:       chosen,
			Observations: b.bySource[material][chosen],
		})
	}
	return selections
}
