package sensitivity

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"battery-cost-forecast/internal/chemistry"
	"battery-cost-forecast/internal/intensity"
	"battery-cost-forecast/internal/scenario"
)

// ErrInvalidMagnitude is returned for non-positive or non-finite perturbations.
var ErrInvalidMagnitude = errors.New("sensitivity: magnitude must be positive")

// Impact is one bar of the tornado.
type Impact struct {
	MaterialID         string
	BasePrice          float64
	DeltaUp            float64
	DeltaDown          float64
	CostDeltaUSDPerGWh float64
}

// Report is a tornado ranking for a chemistry at one month.
type Report struct {
	ChemistryID       string
	Month             time.Time
	Magnitude         float64
	BaseCostUSDPerGWh float64
	Impacts           []Impact
	// Skipped lists chemistry materials with no price at Month.
	Skipped []string
}

// Tornado shocks each priced material of the chemistry by ±magnitude while
// holding the others at base, and ranks materials by the larger absolute
// cost delta.
func Tornado(chemistryID string, rows []intensity.Row, month time.Time, prices map[string]float64, magnitude float64) (Report, error) {
	if !(magnitude > 0) || math.IsInf(magnitude, 0) {
		return Report{}, fmt.Errorf("%w: %v", ErrInvalidMagnitude, magnitude)
	}

	base := chemistry.Compute(chemistryID, rows, month, prices)
	report := Report{
		ChemistryID:       chemistryID,
		Month:             month,
		Magnitude:         magnitude,
		BaseCostUSDPerGWh: base.CostUSDPerGWh,
		Skipped:           base.Missing,
	}

	for _, r := range rows {
		price, ok := prices[r.MaterialID]
		if !ok {
			continue
		}
		up := shocked(chemistryID, rows, month, prices, r.MaterialID, magnitude)
		down := shocked(chemistryID, rows, month, prices, r.MaterialID, -magnitude)

		impact := Impact{
			MaterialID: r.MaterialID,
			BasePrice:  price,
			DeltaUp:    up - base.CostUSDPerGWh,
			DeltaDown:  down - base.CostUSDPerGWh,
		}
		impact.CostDeltaUSDPerGWh = math.Max(math.Abs(impact.DeltaUp), math.Abs(impact.DeltaDown))
		report.Impacts = append(report.Impacts, impact)
	}

	sort.SliceStable(report.Impacts, func(i, j int) bool {
		a, b := report.Impacts[i], report.Impacts[j]
		if a.CostDeltaUSDPerGWh != b.CostDeltaUSDPerGWh {
			return a.CostDeltaUSDPerGWh > b.CostDeltaUSDPerGWh
		}
		return a.MaterialID < b.MaterialID
	})
	return report, nil
}

func shocked(chemistryID string, rows []intensity.Row, month time.Time, prices map[string]float64, material string, pct float64) float64 {
	adjusted, _ := scenario.Apply(prices, []scenario.Adjustment{{MaterialID: material, PriceShockPct: pct}})
	return chemistry.Compute(chemistryID, rows, month, adjusted).CostUSDPerGWh
}

// Analyzer runs tornado rankings against an aggregator's intensity table.
type Analyzer struct {
	agg *chemistry.Aggregator
}

// NewAnalyzer returns an Analyzer backed by agg.
func NewAnalyzer(agg *chemistry.Aggregator) *Analyzer {
	return &Analyzer{agg: agg}
}

// At ranks the chemistry's materials at a panel month.
func (a *Analyzer) At(chemistryID string, month time.Time, panel chemistry.Panel, magnitude float64) (Report, error) {
	rows, ok := a.agg.Table().Rows(chemistryID)
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", chemistry.ErrUnknownChemistry, chemistryID)
	}
	return Tornado(chemistryID, rows, month, panel.Prices(month), magnitude)
}
