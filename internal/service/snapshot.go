package service

import (
	"github.com/shopspring/decimal"

	"battery-cost-forecast/internal/storage"
)

// Snapshot flattens a run result into persisted rows.
func (r *Result) Snapshot(run storage.PipelineRun) storage.Snapshot {
	snap := storage.Snapshot{Run: run}

	for _, f := range r.Forecasts {
		for _, p := range f.Timeline() {
			snap.Prices = append(snap.Prices, storage.PriceRow{
				MaterialID:     p.MaterialID,
				Month:          p.Month,
				PriceUSDPerTon: decimal.NewFromFloat(p.PriceUSDPerTon),
				IsInterpolated: p.IsInterpolated,
				IsForecast:     p.IsForecast,
				ModelUsed:      string(p.ModelUsed),
				Clamped:        p.Clamped,
			})
		}

		row := storage.AccuracyRow{
			MaterialID: f.MaterialID,
			ModelUsed:  string(f.ModelUsed),
		}
		if f.FallbackReason != nil {
			row.FallbackReason = f.FallbackReason.Error()
		}
		if f.Err != nil {
			row.FallbackReason = f.Err.Error()
		}
		// window and folds stay zero alongside a NULL mape
		if f.Accuracy != nil {
			mape := decimal.NewFromFloat(f.Accuracy.MAPE).Round(6)
			row.MAPE = &mape
			row.WindowMonths = f.Accuracy.WindowMonths
			row.Folds = f.Accuracy.Folds
		}
		snap.Accuracy = append(snap.Accuracy, row)
	}

	for _, chem := range sortedKeys(r.Monthly) {
		for _, c := range r.Monthly[chem] {
			breakdown := make(map[string]decimal.Decimal, len(c.Breakdown))
			for m, v := range c.Breakdown {
				breakdown[m] = decimal.NewFromFloat(v).Round(6)
			}
			snap.Chemistry = append(snap.Chemistry, storage.ChemistryCostRow{
				ChemistryID:   c.ChemistryID,
				Month:         c.Month,
				CostUSDPerGWh: decimal.NewFromFloat(c.CostUSDPerGWh).Round(6),
				CostUSDPerKWh: decimal.NewFromFloat(c.CostUSDPerKWh).Round(9),
				Breakdown:     breakdown,
				Missing:       c.Missing,
				Incomplete:    c.Incomplete,
				IsForecast:    c.IsForecast,
			})
		}
	}
	return snap
}
