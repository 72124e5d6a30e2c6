package app

import (
	"context"
	"fmt"
	"time"

	"battery-cost-forecast/internal/export"
	"battery-cost-forecast/internal/service"
)

// Export recomputes from the configured sources and writes every table,
// scenario variant and tornado to disk. Nothing is persisted.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	res, pipeline, err := a.compute(ctx)
	if err != nil {
		return err
	}
	bundle, err := a.bundle(res, pipeline, opts.Scenarios, a.Config.ResolveMagnitude(opts.Magnitude))
	if err != nil {
		return err
	}
	return a.writeBundle(bundle, opts.Dir)
}

// bundle assembles the export set. Empty names selects every preset.
func (a *App) bundle(res *service.Result, pipeline *service.Pipeline, names []string, magnitude float64) (export.Bundle, error) {
	catalog, err := a.loadCatalog()
	if err != nil {
		return export.Bundle{}, err
	}
	if len(names) == 0 {
		names = catalog.Names()
	}

	b := export.Bundle{Result: res}
	for _, name := range names {
		sc, err := catalog.Get(name)
		if err != nil {
			return export.Bundle{}, err
		}
		b.Scenarios = append(b.Scenarios, res.Scenario(pipeline.Aggregator(), sc.Name, a.canonicalAdjustments(sc.Adjustments)))
	}

	if _, ok := res.FirstForecastMonth(); ok {
		b.Sensitivity, err = res.SensitivityAll(pipeline.Aggregator(), time.Time{}, magnitude)
		if err != nil {
			return export.Bundle{}, err
		}
	} else {
		a.Logger.Warn().Msg("no forecast month available; tornado skipped")
	}
	return b, nil
}

func (a *App) writeBundle(b export.Bundle, dirOverride string) error {
	dir := a.Config.ResolveExportDir(dirOverride)
	exp := export.New(export.Options{
		Dir:    dir,
		Charts: a.Config.Export.Charts,
		Excel:  a.Config.Export.Excel,
	}, a.Logger)
	written, err := exp.Write(b)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "wrote %d files to %s\n", len(written), dir)
	return nil
}
