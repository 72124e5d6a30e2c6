package service

import (
	"fmt"
	"time"

	"battery-cost-forecast/internal/chemistry"
	"battery-cost-forecast/internal/scenario"
	"battery-cost-forecast/internal/sensitivity"
)

// ScenarioView is a scenario-adjusted copy of a run's chemistry costs.
type ScenarioView struct {
	Name    string
	Monthly map[string][]chemistry.CostPoint
	Annual  map[string][]chemistry.AnnualPoint
	Clamps  []scenario.Clamp
}

// Scenario recomputes chemistry costs over an adjusted copy of the run's
// price panel. The run itself is left untouched.
func (r *Result) Scenario(agg *chemistry.Aggregator, name string, adjustments []scenario.Adjustment) ScenarioView {
	panel, clamps := scenario.ApplyPanel(r.Panel, adjustments)
	view := ScenarioView{
		Name:    name,
		Monthly: agg.MonthlyAll(panel),
		Clamps:  clamps,
	}
	view.Annual = make(map[string][]chemistry.AnnualPoint, len(view.Monthly))
	for chem, points := range view.Monthly {
		view.Annual[chem] = chemistry.Annual(points)
	}
	return view
}

// Sensitivity ranks a chemistry's materials at month. A zero month selects
// the first forecast month of the run.
func (r *Result) Sensitivity(agg *chemistry.Aggregator, chemistryID string, month time.Time, magnitude float64) (sensitivity.Report, error) {
	if month.IsZero() {
		first, ok := r.FirstForecastMonth()
		if !ok {
			return sensitivity.Report{}, fmt.Errorf("no forecast month available")
		}
		month = first
	}
	return sensitivity.NewAnalyzer(agg).At(chemistryID, month, r.Panel, magnitude)
}

// SensitivityAll runs Sensitivity for every chemistry in the aggregator's table.
func (r *Result) SensitivityAll(agg *chemistry.Aggregator, month time.Time, magnitude float64) ([]sensitivity.Report, error) {
	var reports []sensitivity.Report
	for _, chem := range agg.Table().Chemistries() {
		report, err := r.Sensitivity(agg, chem, month, magnitude)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
