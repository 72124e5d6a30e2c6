package units

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// PoundsPerTon converts a per-pound price into a per-ton price.
	PoundsPerTon = 2204.62
	// KilogramsPerTon converts a per-kilogram price into a per-ton price.
	KilogramsPerTon = 1000.0
	// OuncesPerTon is the approximate factor used for precious-metal quotes.
	OuncesPerTon = 32000.0
)

var (
	// ErrUnsupportedUnit indicates a quote unit with no known ton multiplier.
	ErrUnsupportedUnit = errors.New("units: unsupported unit")
	// ErrUnsupportedCurrency indicates a quote currency with no configured FX rate.
	ErrUnsupportedCurrency = errors.New("units: unsupported currency")
)

var unitMultipliers = map[string]float64{
	"lb":         PoundsPerTon,
	"lbs":        PoundsPerTon,
	"pound":      PoundsPerTon,
	"pounds":     PoundsPerTon,
	"kg":         KilogramsPerTon,
	"kilogram":   KilogramsPerTon,
	"kilograms":  KilogramsPerTon,
	"oz":         OuncesPerTon,
	"ounce":      OuncesPerTon,
	"ounces":     OuncesPerTon,
	"t":          1,
	"ton":        1,
	"tons":       1,
	"tonne":      1,
	"tonnes":     1,
	"mt":         1,
	"metric_ton": 1,
	"metricton":  1,
}

// DefaultFXRates holds USD per unit of currency. USC is US cents.
func DefaultFXRates() map[string]float64 {
	return map[string]float64{
		"USD": 1,
		"CNY": 0.14,
		"USC": 0.01,
	}
}

// Normalizer converts raw quotes into USD/ton using a fixed FX table.
type Normalizer struct {
	fx map[string]float64
}

// NewNormalizer builds a Normalizer. Currency codes are matched case-insensitively;
// USD is always accepted at parity.
func NewNormalizer(fxRates map[string]float64) *Normalizer {
	fx := make(map[string]float64, len(fxRates)+1)
	for code, rate := range fxRates {
		fx[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	fx["USD"] = 1
	return &Normalizer{fx: fx}
}

// Normalize converts (value, unit, currency) into USD/ton.
func (n *Normalizer) Normalize(value float64, unit, currency string) (float64, error) {
	multiplier, err := UnitMultiplier(unit)
	if err != nil {
		return 0, err
	}
	rate, err := n.Rate(currency)
	if err != nil {
		return 0, err
	}
	return value * multiplier * rate, nil
}

// Rate returns the USD value of one unit of currency.
func (n *Normalizer) Rate(currency string) (float64, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	rate, ok := n.fx[code]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
	return rate, nil
}

// Currencies lists the configured currency codes in lexical order.
func (n *Normalizer) Currencies() []string {
	codes := make([]string, 0, len(n.fx))
	for code := range n.fx {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// UnitMultiplier returns the factor that turns a per-unit price into a per-ton price.
func UnitMultiplier(unit string) (float64, error) {
	key := strings.ToLower(strings.TrimSpace(unit))
	key = strings.ReplaceAll(key, " ", "_")
	multiplier, ok := unitMultipliers[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedUnit, unit)
	}
	return multiplier, nil
}

// ParseUnit splits a combined quote unit such as "USD/lb" or "CNY/T" into its
// currency and mass unit. Strings without a slash are returned as a bare unit.
// "cents/lb" is reported as currency USC.
func ParseUnit(raw string) (currency, unit string) {
	cleaned := strings.TrimSpace(raw)
	idx := strings.Index(cleaned, "/")
	if idx < 0 {
		return "", cleaned
	}
	currency = strings.ToUpper(strings.TrimSpace(cleaned[:idx]))
	unit = strings.TrimSpace(cleaned[idx+1:])
	if currency == "CENTS" {
		currency = "USC"
	}
	return currency, unit
}
