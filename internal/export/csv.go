package export

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"battery-cost-forecast/internal/chemistry"
	"battery-cost-forecast/internal/forecast"
	"battery-cost-forecast/internal/scenario"
	"battery-cost-forecast/internal/sensitivity"
)

const monthLayout = "2006-01"

var (
	pricesHeader    = []string{"material_id", "month", "price_usd_per_ton", "is_interpolated", "is_forecast", "model_used", "clamped"}
	accuracyHeader  = []string{"material_id", "source", "model_used", "mape_pct", "window_months", "folds", "fallback_reason"}
	monthlyHeader   = []string{"chemistry_id", "month", "cost_usd_per_gwh", "cost_usd_per_kwh", "is_forecast", "incomplete", "missing"}
	breakdownHeader = []string{"chemistry_id", "month", "material_id", "contribution_usd_per_gwh"}
	annualHeader    = []string{"chemistry_id", "year", "cost_usd_per_gwh", "cost_usd_per_kwh", "months", "partial", "incomplete", "has_forecast"}
	tornadoHeader   = []string{"chemistry_id", "month", "magnitude", "material_id", "base_price_usd_per_ton", "delta_up_usd_per_gwh", "delta_down_usd_per_gwh", "cost_delta_usd_per_gwh"}
	clampHeader     = []string{"material_id", "month", "raw_price_usd_per_ton"}
)

func formatFloat(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

func writeRows(w io.Writer, header []string, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := writer.Write(r); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func priceRows(forecasts []forecast.Result) [][]string {
	var rows [][]string
	for _, f := range forecasts {
		for _, p := range f.Timeline() {
			rows = append(rows, []string{
				p.MaterialID,
				p.Month.Format(monthLayout),
				formatFloat(p.PriceUSDPerTon, 2),
				strconv.FormatBool(p.IsInterpolated),
				strconv.FormatBool(p.IsForecast),
				string(p.ModelUsed),
				strconv.FormatBool(p.Clamped),
			})
		}
	}
	return rows
}

// WritePrices writes every material timeline, history then forecast.
func WritePrices(w io.Writer, forecasts []forecast.Result) error {
	return writeRows(w, pricesHeader, priceRows(forecasts))
}

func accuracyRows(forecasts []forecast.Result, sources map[string]string) [][]string {
	rows := make([][]string, 0, len(forecasts))
	for _, f := range forecasts {
		mape, window, folds := "", strconv.Itoa(len(f.History)), "0"
		if f.Accuracy != nil {
			mape = formatFloat(f.Accuracy.MAPE, 4)
			window = strconv.Itoa(f.Accuracy.WindowMonths)
			folds = strconv.Itoa(f.Accuracy.Folds)
		}
		reason := ""
		switch {
		case f.Err != nil:
			reason = f.Err.Error()
		case f.FallbackReason != nil:
			reason = f.FallbackReason.Error()
		}
		rows = append(rows, []string{f.MaterialID, sources[f.MaterialID], string(f.ModelUsed), mape, window, folds, reason})
	}
	return rows
}

// WriteAccuracy writes one walk-forward accuracy row per material. An empty
// mape_pct means too few usable folds.
func WriteAccuracy(w io.Writer, forecasts []forecast.Result, sources map[string]string) error {
	return writeRows(w, accuracyHeader, accuracyRows(forecasts, sources))
}

func chemistryIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func monthlyRows(monthly map[string][]chemistry.CostPoint) [][]string {
	var rows [][]string
	for _, chem := range chemistryIDs(monthly) {
		for _, p := range monthly[chem] {
			rows = append(rows, []string{
				chem,
				p.Month.Format(monthLayout),
				formatFloat(p.CostUSDPerGWh, 2),
				formatFloat(p.CostUSDPerKWh, 4),
				strconv.FormatBool(p.IsForecast),
				strconv.FormatBool(p.Incomplete),
				strings.Join(p.Missing, ";"),
			})
		}
	}
	return rows
}

// WriteMonthly writes chemistry cost per month.
func WriteMonthly(w io.Writer, monthly map[string][]chemistry.CostPoint) error {
	return writeRows(w, monthlyHeader, monthlyRows(monthly))
}

func breakdownRows(monthly map[string][]chemistry.CostPoint) [][]string {
	var rows [][]string
	for _, chem := range chemistryIDs(monthly) {
		for _, p := range monthly[chem] {
			for _, material := range chemistryIDs(p.Breakdown) {
				rows = append(rows, []string{chem, p.Month.Format(monthLayout), material, formatFloat(p.Breakdown[material], 2)})
			}
		}
	}
	return rows
}

// WriteBreakdown writes per-material contributions in long format.
func WriteBreakdown(w io.Writer, monthly map[string][]chemistry.CostPoint) error {
	return writeRows(w, breakdownHeader, breakdownRows(monthly))
}

func annualRows(annual map[string][]chemistry.AnnualPoint) [][]string {
	var rows [][]string
	for _, chem := range chemistryIDs(annual) {
		for _, a := range annual[chem] {
			rows = append(rows, []string{
				chem,
				strconv.Itoa(a.Year),
				formatFloat(a.CostUSDPerGWh, 2),
				formatFloat(a.CostUSDPerKWh, 4),
				strconv.Itoa(a.Months),
				strconv.FormatBool(a.Partial),
				strconv.FormatBool(a.Incomplete),
				strconv.FormatBool(a.HasForecast),
			})
		}
	}
	return rows
}

// WriteAnnual writes calendar-year averages.
func WriteAnnual(w io.Writer, annual map[string][]chemistry.AnnualPoint) error {
	return writeRows(w, annualHeader, annualRows(annual))
}

func tornadoRows(reports []sensitivity.Report) [][]string {
	var rows [][]string
	for _, r := range reports {
		for _, imp := range r.Impacts {
			rows = append(rows, []string{
				r.ChemistryID,
				r.Month.Format(monthLayout),
				formatFloat(r.Magnitude, 4),
				imp.MaterialID,
				formatFloat(imp.BasePrice, 2),
				formatFloat(imp.DeltaUp, 2),
				formatFloat(imp.DeltaDown, 2),
				formatFloat(imp.CostDeltaUSDPerGWh, 2),
			})
		}
	}
	return rows
}

// WriteTornado writes sensitivity rankings in rank order.
func WriteTornado(w io.Writer, reports []sensitivity.Report) error {
	return writeRows(w, tornadoHeader, tornadoRows(reports))
}

func clampRows(clamps []scenario.Clamp) [][]string {
	rows := make([][]string, 0, len(clamps))
	for _, c := range clamps {
		rows = append(rows, []string{c.MaterialID, c.Month.Format(monthLayout), formatFloat(c.Raw, 2)})
	}
	return rows
}

// WriteClamps lists scenario prices that went negative and were floored.
func WriteClamps(w io.Writer, clamps []scenario.Clamp) error {
	return writeRows(w, clampHeader, clampRows(clamps))
}
