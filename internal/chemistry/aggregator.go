package chemistry

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"battery-cost-forecast/internal/forecast"
	"battery-cost-forecast/internal/intensity"
)

// ErrUnknownChemistry is returned for chemistries absent from the intensity table.
var ErrUnknownChemistry = errors.New("chemistry: unknown chemistry")

const gwhPerKWh = 1e-6

// CostPoint is a chemistry's material cost for one month. Breakdown values
// always sum to CostUSDPerGWh.
type CostPoint struct {
	ChemistryID   string
	Month         time.Time
	CostUSDPerGWh float64
	CostUSDPerKWh float64
	Breakdown     map[string]float64
	// Missing lists materials without a price this month; Incomplete is set
	// whenever Missing is non-empty.
	Missing    []string
	Incomplete bool
	IsForecast bool
}

// Compute sums price × intensity over the chemistry's materials. Materials
// without a price are reported as missing rather than treated as free.
func Compute(chemistryID string, rows []intensity.Row, month time.Time, prices map[string]float64) CostPoint {
	point := CostPoint{
		ChemistryID: chemistryID,
		Month:       month,
		Breakdown:   make(map[string]float64, len(rows)),
	}

	ordered := append([]intensity.Row(nil), rows...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].MaterialID < ordered[j].MaterialID })

	for _, r := range ordered {
		price, ok := prices[r.MaterialID]
		if !ok {
			point.Missing = append(point.Missing, r.MaterialID)
			continue
		}
		contribution := price * r.TonsPerGWh
		point.Breakdown[r.MaterialID] = contribution
		point.CostUSDPerGWh += contribution
	}
	point.Incomplete = len(point.Missing) > 0
	return point
}

// Aggregator turns price panels into chemistry cost series.
type Aggregator struct {
	table           *intensity.Table
	packOverheadPct float64
}

// NewAggregator builds an Aggregator over a read-only intensity table.
// packOverheadPct (0.15 = 15%) only affects the $/kWh figure.
func NewAggregator(table *intensity.Table, packOverheadPct float64) *Aggregator {
	return &Aggregator{table: table, packOverheadPct: packOverheadPct}
}

// Table exposes the underlying intensity table.
func (a *Aggregator) Table() *intensity.Table {
	return a.table
}

// CostAt computes a single chemistry/month cost point.
func (a *Aggregator) CostAt(chemistryID string, month time.Time, prices map[string]float64) (CostPoint, error) {
	rows, ok := a.table.Rows(chemistryID)
	if !ok {
		return CostPoint{}, fmt.Errorf("%w: %s", ErrUnknownChemistry, chemistryID)
	}
	point := Compute(chemistryID, rows, month, prices)
	point.CostUSDPerKWh = a.perKWh(point.CostUSDPerGWh)
	return point, nil
}

func (a *Aggregator) perKWh(costPerGWh float64) float64 {
	return costPerGWh * gwhPerKWh * (1 + a.packOverheadPct)
}

// Monthly builds the chemistry's cost series over every panel month in which
// at least one of its materials is priced.
func (a *Aggregator) Monthly(chemistryID string, panel Panel) ([]CostPoint, error) {
	rows, ok := a.table.Rows(chemistryID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChemistry, chemistryID)
	}

	var points []CostPoint
	for _, month := range panel.Months() {
		cells := panel[month]
		prices := make(map[string]float64, len(rows))
		isForecast := false
		for _, r := range rows {
			if cell, ok := cells[r.MaterialID]; ok {
				prices[r.MaterialID] = cell.Price
				isForecast = isForecast || cell.IsForecast
			}
		}
		if len(prices) == 0 {
			continue
		}
		point := Compute(chemistryID, rows, month, prices)
		point.CostUSDPerKWh = a.perKWh(point.CostUSDPerGWh)
		point.IsForecast = isForecast
		points = append(points, point)
	}
	return points, nil
}

// MonthlyAll runs Monthly for every chemistry in the table.
func (a *Aggregator) MonthlyAll(panel Panel) map[string][]CostPoint {
	out := make(map[string][]CostPoint)
	for _, chem := range a.table.Chemistries() {
		points, err := a.Monthly(chem, panel)
		if err != nil {
			continue
		}
		out[chem] = points
	}
	return out
}

// Cell is one material price in a panel month.
type Cell struct {
	Price      float64
	IsForecast bool
}

// Panel maps month → material → price.
type Panel map[time.Time]map[string]Cell

// NewPanel builds a panel from forecast timelines.
func NewPanel(timelines ...[]forecast.Point) Panel {
	panel := make(Panel)
	for _, tl := range timelines {
		for _, p := range tl {
			panel.Set(p.Month, p.MaterialID, Cell{Price: p.PriceUSDPerTon, IsForecast: p.IsForecast})
		}
	}
	return panel
}

// Set stores a cell.
func (p Panel) Set(month time.Time, material string, cell Cell) {
	if p[month] == nil {
		p[month] = make(map[string]Cell)
	}
	p[month][material] = cell
}

// Months returns the panel months in ascending order.
func (p Panel) Months() []time.Time {
	months := make([]time.Time, 0, len(p))
	for m := range p {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	return months
}

// Prices returns the plain price mapping for a month.
func (p Panel) Prices(month time.Time) map[string]float64 {
	cells := p[month]
	prices := make(map[string]float64, len(cells))
	for m, c := range cells {
		prices[m] = c.Price
	}
	return prices
}

// Clone deep-copies the panel.
func (p Panel) Clone() Panel {
	out := make(Panel, len(p))
	for month, cells := range p {
		copied := make(map[string]Cell, len(cells))
		for m, c := range cells {
			copied[m] = c
		}
		out[month] = copied
	}
	return out
}
