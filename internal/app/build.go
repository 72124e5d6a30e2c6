package app

import (
	"context"

	"battery-cost-forecast/internal/metrics"
)

// Build performs one full recompute, persists it when a database is
// configured, dispatches alerts and writes the export bundle.
func (a *App) Build(ctx context.Context, opts BuildOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc, pipeline, err := a.newService(store, nil, metrics.New(a.Config.Metrics.Namespace))
	if err != nil {
		return err
	}

	res, err := svc.Execute(ctx)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		a.Logger.Warn().Str("warning", w).Msg("run warning")
	}

	if opts.NoExport {
		return nil
	}
	bundle, err := a.bundle(res, pipeline, nil, a.Config.Scenario.SensitivityMagnitude)
	if err != nil {
		return err
	}
	return a.writeBundle(bundle, opts.ExportDir)
}
