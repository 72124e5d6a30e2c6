package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"battery-cost-forecast/internal/export"
	"battery-cost-forecast/internal/intensity"
	"battery-cost-forecast/internal/scenario"
	"battery-cost-forecast/internal/service"
)

// Scenario compares base annual costs with a preset or ad-hoc adjustment set.
func (a *App) Scenario(ctx context.Context, opts ScenarioOptions) error {
	sc, err := a.resolveScenario(opts)
	if err != nil {
		return err
	}

	res, pipeline, err := a.compute(ctx)
	if err != nil {
		return err
	}
	view := res.Scenario(pipeline.Aggregator(), sc.Name, a.canonicalAdjustments(sc.Adjustments))
	for _, c := range view.Clamps {
		a.Logger.Warn().Str("material", c.MaterialID).Time("month", c.Month).Float64("raw", c.Raw).Msg("scenario price clamped to zero")
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Scenario: %s\n", sc.Name)
	fmt.Fprintln(writer, "Chemistry\tYear\tBase USD/kWh\tScenario USD/kWh\tChange%")
	for _, chem := range sortedChemistries(res.Annual, "") {
		base := res.Annual[chem]
		adjusted := view.Annual[chem]
		for i, b := range base {
			if i >= len(adjusted) {
				break
			}
			s := adjusted[i]
			change := "n/a"
			if b.CostUSDPerKWh != 0 {
				change = formatFloat((s.CostUSDPerKWh-b.CostUSDPerKWh)/b.CostUSDPerKWh*100, 2)
			}
			fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\n", chem, b.Year,
				formatFloat(b.CostUSDPerKWh, 2), formatFloat(s.CostUSDPerKWh, 2), change)
		}
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	if opts.ExportDir == "" {
		return nil
	}
	return a.writeBundle(export.Bundle{Result: res, Scenarios: []service.ScenarioView{view}}, opts.ExportDir)
}

func (a *App) resolveScenario(opts ScenarioOptions) (scenario.Scenario, error) {
	adHoc := len(opts.Shock)+len(opts.Recycling)+len(opts.Duty) > 0
	switch {
	case opts.Preset != "" && adHoc:
		return scenario.Scenario{}, errors.New("--preset cannot be combined with --shock/--recycling/--duty")
	case opts.Preset != "":
		catalog, err := a.loadCatalog()
		if err != nil {
			return scenario.Scenario{}, err
		}
		return catalog.Get(opts.Preset)
	case adHoc:
		shock, err := scenario.ParseAssignments(opts.Shock)
		if err != nil {
			return scenario.Scenario{}, err
		}
		recycling, err := scenario.ParseAssignments(opts.Recycling)
		if err != nil {
			return scenario.Scenario{}, err
		}
		duty, err := scenario.ParseAssignments(opts.Duty)
		if err != nil {
			return scenario.Scenario{}, err
		}
		return scenario.Scenario{
			Name:        "adhoc",
			Adjustments: scenario.FromAssignments(shock, recycling, duty),
		}, nil
	default:
		return scenario.Scenario{}, errors.New("either --preset or at least one adjustment flag is required")
	}
}

// canonicalAdjustments maps user-facing material names onto series ids.
func (a *App) canonicalAdjustments(adjs []scenario.Adjustment) []scenario.Adjustment {
	aliases := make(map[string]string)
	for from, to := range a.aliases() {
		aliases[intensity.NormalizeName(from)] = intensity.NormalizeName(to)
	}
	out := make([]scenario.Adjustment, len(adjs))
	for i, adj := range adjs {
		name := intensity.NormalizeName(adj.MaterialID)
		if alias, ok := aliases[name]; ok {
			name = alias
		}
		adj.MaterialID = name
		out[i] = adj
	}
	return out
}
