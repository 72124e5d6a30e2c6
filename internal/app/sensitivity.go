package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"battery-cost-forecast/internal/export"
	"battery-cost-forecast/internal/sensitivity"
)

// Sensitivity prints the tornado ranking for one chemistry, or all of them
// when opts.Chemistry is empty.
func (a *App) Sensitivity(ctx context.Context, opts SensitivityOptions) error {
	var month time.Time
	if strings.TrimSpace(opts.Month) != "" {
		m, err := time.Parse("2006-01", strings.TrimSpace(opts.Month))
		if err != nil {
			return fmt.Errorf("invalid --month %q, expected YYYY-MM", opts.Month)
		}
		month = m
	}
	magnitude := a.Config.ResolveMagnitude(opts.Magnitude)

	res, pipeline, err := a.compute(ctx)
	if err != nil {
		return err
	}

	var reports []sensitivity.Report
	if opts.Chemistry == "" {
		reports, err = res.SensitivityAll(pipeline.Aggregator(), month, magnitude)
	} else {
		var report sensitivity.Report
		report, err = res.Sensitivity(pipeline.Aggregator(), opts.Chemistry, month, magnitude)
		reports = []sensitivity.Report{report}
	}
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	for _, r := range reports {
		fmt.Fprintf(writer, "%s @ %s ±%s%%  base %s USD/GWh\n",
			r.ChemistryID, r.Month.Format("2006-01"), formatFloat(r.Magnitude*100, 1), formatFloat(r.BaseCostUSDPerGWh, 0))
		fmt.Fprintln(writer, "Rank\tMaterial\tPrice USD/t\tUp\tDown\t|Delta|")
		for i, imp := range r.Impacts {
			fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\n", i+1, imp.MaterialID,
				formatFloat(imp.BasePrice, 2),
				formatFloat(imp.DeltaUp, 0),
				formatFloat(imp.DeltaDown, 0),
				formatFloat(imp.CostDeltaUSDPerGWh, 0),
			)
		}
		if len(r.Skipped) > 0 {
			fmt.Fprintf(writer, "skipped (no price): %s\n", strings.Join(r.Skipped, ", "))
		}
		fmt.Fprintln(writer)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	if opts.ExportDir == "" {
		return nil
	}
	return a.writeBundle(export.Bundle{Result: res, Sensitivity: reports}, opts.ExportDir)
}
