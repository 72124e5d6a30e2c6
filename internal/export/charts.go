package export

import (
	"errors"
	"fmt"
	"io"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"battery-cost-forecast/internal/chemistry"
	"battery-cost-forecast/internal/sensitivity"
)

// ErrNothingToPlot is returned when no series has enough points for a chart.
var ErrNothingToPlot = errors.New("export: nothing to plot")

// WriteCostChart plots $/kWh per chemistry over time. Chemistries with fewer
// than two priced months are left out.
func WriteCostChart(w io.Writer, monthly map[string][]chemistry.CostPoint) error {
	var series []chart.Series
	for _, chem := range chemistryIDs(monthly) {
		points := monthly[chem]
		if len(points) < 2 {
			continue
		}
		x := make([]time.Time, len(points))
		y := make([]float64, len(points))
		for i, p := range points {
			x[i] = p.Month
			y[i] = p.CostUSDPerKWh
		}
		series = append(series, chart.TimeSeries{Name: chem, XValues: x, YValues: y})
	}
	if len(series) == 0 {
		return ErrNothingToPlot
	}

	costFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat(monthLayout),
		},
		YAxis: chart.YAxis{
			Name:           "Material cost (USD/kWh)",
			ValueFormatter: costFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph.Render(chart.PNG, w)
}

// WriteTornadoChart renders one report as a bar chart of cost deltas in rank order.
func WriteTornadoChart(w io.Writer, report sensitivity.Report) error {
	bars := make([]chart.Value, 0, len(report.Impacts))
	nonZero := false
	for _, imp := range report.Impacts {
		bars = append(bars, chart.Value{Label: imp.MaterialID, Value: imp.CostDeltaUSDPerGWh})
		nonZero = nonZero || imp.CostDeltaUSDPerGWh != 0
	}
	if !nonZero {
		return ErrNothingToPlot
	}

	graph := chart.BarChart{
		Title:    fmt.Sprintf("%s ±%.0f%% (%s)", report.ChemistryID, report.Magnitude*100, report.Month.Format(monthLayout)),
		Width:    1024,
		Height:   512,
		BarWidth: 60,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Bars: bars,
	}
	return graph.Render(chart.PNG, w)
}
