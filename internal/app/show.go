package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"battery-cost-forecast/internal/chemistry"
	"battery-cost-forecast/internal/intensity"
	"battery-cost-forecast/internal/service"
	"battery-cost-forecast/internal/storage"
)

// Show prints run history, a freshly computed table, or with Persisted the
// table stored by the last successful run.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Persisted && strings.ToLower(opts.What) != "runs" {
		return a.showPersisted(ctx, opts)
	}

	switch strings.ToLower(opts.What) {
	case "runs":
		return a.showRuns(ctx, opts.Limit)
	case "accuracy":
		res, _, err := a.compute(ctx)
		if err != nil {
			return err
		}
		return a.printAccuracy(res)
	case "", "annual":
		res, _, err := a.compute(ctx)
		if err != nil {
			return err
		}
		return a.printAnnual(res.Annual, opts.Chemistry)
	case "costs", "monthly":
		res, _, err := a.compute(ctx)
		if err != nil {
			return err
		}
		return a.printMonthly(res.Monthly, opts.Chemistry, opts.Limit)
	default:
		return fmt.Errorf("unknown table %q (runs, accuracy, annual, costs)", opts.What)
	}
}

func (a *App) showRuns(ctx context.Context, limit int) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show runs")
	}
	if closeStore != nil {
		defer closeStore()
	}

	runs, err := store.ListRecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.Out, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tStatus\tQuotes\tRejected\tMaterials\tChemistries\tWarnings\tError")
	for _, run := range runs {
		errMsg := ""
		if run.Error != nil {
			errMsg = sanitizeInline(*run.Error)
		}
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Status,
			run.QuoteCount,
			run.RejectedCount,
			run.MaterialCount,
			run.ChemistryCount,
			len(run.Warnings),
			errMsg,
		)
	}
	return writer.Flush()
}

// snapshotReader is the read side of the persisted snapshot.
type snapshotReader interface {
	ListAccuracy(ctx context.Context) ([]storage.AccuracyRow, error)
	ListChemistryCosts(ctx context.Context, chemistryID string, from, to time.Time) ([]storage.ChemistryCostRow, error)
}

var (
	persistedFrom = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	persistedTo   = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)
)

func (a *App) showPersisted(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show persisted tables")
	}
	if closeStore != nil {
		defer closeStore()
	}
	return a.printPersisted(ctx, store, opts)
}

func (a *App) printPersisted(ctx context.Context, reader snapshotReader, opts ShowOptions) error {
	switch strings.ToLower(opts.What) {
	case "accuracy":
		rows, err := reader.ListAccuracy(ctx)
		if err != nil {
			return err
		}
		return a.printStoredAccuracy(rows)
	case "", "annual", "costs", "monthly":
		monthly, err := a.loadStoredCosts(ctx, reader, opts.Chemistry)
		if err != nil {
			return err
		}
		if strings.ToLower(opts.What) == "costs" || strings.ToLower(opts.What) == "monthly" {
			return a.printMonthly(monthly, opts.Chemistry, opts.Limit)
		}
		annual := make(map[string][]chemistry.AnnualPoint, len(monthly))
		for chem, points := range monthly {
			annual[chem] = chemistry.Annual(points)
		}
		return a.printAnnual(annual, opts.Chemistry)
	default:
		return fmt.Errorf("unknown persisted table %q (accuracy, annual, costs)", opts.What)
	}
}

// loadStoredCosts reads monthly costs for one chemistry, or every chemistry
// in the intensity table when only is empty.
func (a *App) loadStoredCosts(ctx context.Context, reader snapshotReader, only string) (map[string][]chemistry.CostPoint, error) {
	chems := []string{only}
	if only == "" {
		table, err := intensity.Load(a.Config.Intensity.Path, a.aliases())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", service.ErrNoIntensityTable, err)
		}
		chems = table.Chemistries()
	}

	monthly := make(map[string][]chemistry.CostPoint, len(chems))
	for _, chem := range chems {
		rows, err := reader.ListChemistryCosts(ctx, chem, persistedFrom, persistedTo)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			continue
		}
		points := make([]chemistry.CostPoint, 0, len(rows))
		for _, r := range rows {
			breakdown := make(map[string]float64, len(r.Breakdown))
			for m, v := range r.Breakdown {
				breakdown[m] = v.InexactFloat64()
			}
			points = append(points, chemistry.CostPoint{
				ChemistryID:   r.ChemistryID,
				Month:         r.Month,
				CostUSDPerGWh: r.CostUSDPerGWh.InexactFloat64(),
				CostUSDPerKWh: r.CostUSDPerKWh.InexactFloat64(),
				Breakdown:     breakdown,
				Missing:       r.Missing,
				Incomplete:    r.Incomplete,
				IsForecast:    r.IsForecast,
			})
		}
		monthly[chem] = points
	}
	return monthly, nil
}

func (a *App) printStoredAccuracy(rows []storage.AccuracyRow) error {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Material\tModel\tMAPE%\tWindow\tFolds\tNote")
	for _, r := range rows {
		mape := "n/a"
		if r.MAPE != nil {
			mape = r.MAPE.StringFixed(2)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.MaterialID, r.ModelUsed, mape, r.WindowMonths, r.Folds, sanitizeInline(r.FallbackReason))
	}
	return writer.Flush()
}

func (a *App) printAccuracy(res *service.Result) error {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Material\tSource\tModel\tMAPE%\tFolds\tNote")
	for _, f := range res.Forecasts {
		mape, folds := "n/a", "0"
		if f.Accuracy != nil {
			mape = formatFloat(f.Accuracy.MAPE, 2)
			folds = fmt.Sprint(f.Accuracy.Folds)
		}
		note := ""
		switch {
		case f.Err != nil:
			note = f.Err.Error()
		case f.FallbackReason != nil:
			note = f.FallbackReason.Error()
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			f.MaterialID, res.Sources[f.MaterialID], f.ModelUsed, mape, folds, sanitizeInline(note))
	}
	return writer.Flush()
}

func (a *App) printAnnual(annual map[string][]chemistry.AnnualPoint, only string) error {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Chemistry\tYear\tUSD/GWh\tUSD/kWh\tMonths\tFlags")
	for _, chem := range sortedChemistries(annual, only) {
		for _, p := range annual[chem] {
			fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%d\t%s\n",
				chem, p.Year,
				formatFloat(p.CostUSDPerGWh, 0),
				formatFloat(p.CostUSDPerKWh, 2),
				p.Months,
				flags(p.Partial, p.Incomplete, p.HasForecast),
			)
		}
	}
	return writer.Flush()
}

// printMonthly shows the last limit months per chemistry; limit <= 0 shows all.
func (a *App) printMonthly(monthly map[string][]chemistry.CostPoint, only string, limit int) error {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Chemistry\tMonth\tUSD/GWh\tUSD/kWh\tForecast\tMissing")
	for _, chem := range sortedChemistries(monthly, only) {
		points := monthly[chem]
		if limit > 0 && len(points) > limit {
			points = points[len(points)-limit:]
		}
		for _, p := range points {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%t\t%s\n",
				chem, p.Month.Format("2006-01"),
				formatFloat(p.CostUSDPerGWh, 0),
				formatFloat(p.CostUSDPerKWh, 2),
				p.IsForecast,
				strings.Join(p.Missing, ","),
			)
		}
	}
	return writer.Flush()
}

func sortedChemistries[V any](m map[string]V, only string) []string {
	if only != "" {
		if _, ok := m[only]; ok {
			return []string{only}
		}
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flags(partial, incomplete, forecast bool) string {
	var out []string
	if partial {
		out = append(out, "partial")
	}
	if incomplete {
		out = append(out, "incomplete")
	}
	if forecast {
		out = append(out, "forecast")
	}
	return strings.Join(out, ",")
}

func formatFloat(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
