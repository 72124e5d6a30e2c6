package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"battery-cost-forecast/internal/chemistry"
	"battery-cost-forecast/internal/forecast"
	"battery-cost-forecast/internal/scenario"
	"battery-cost-forecast/internal/sensitivity"
	"battery-cost-forecast/internal/series"
	"battery-cost-forecast/internal/service"
)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func sampleResult() *service.Result {
	nickel := forecast.Result{
		MaterialID: "nickel",
		History: []series.PricePoint{
			{MaterialID: "nickel", Month: month(2024, 11), PriceUSDPerTon: 16000},
			{MaterialID: "nickel", Month: month(2024, 12), PriceUSDPerTon: 16100, IsInterpolated: true},
		},
		Forecast: []forecast.Point{
			{MaterialID: "nickel", Month: month(2025, 1), PriceUSDPerTon: 16200.456, IsForecast: true, ModelUsed: forecast.ModelLinearFallback},
		},
		ModelUsed:      forecast.ModelLinearFallback,
		FallbackReason: errors.New("forecast: insufficient data"),
	}
	cobalt := forecast.Result{
		MaterialID: "cobalt",
		History:    []series.PricePoint{{MaterialID: "cobalt", Month: month(2024, 12), PriceUSDPerTon: 33000}},
		ModelUsed:  forecast.ModelETS,
		Accuracy:   &forecast.Accuracy{MaterialID: "cobalt", MAPE: 3.21, WindowMonths: 24, Folds: 18},
	}

	monthly := map[string][]chemistry.CostPoint{
		"NMC811": {
			{ChemistryID: "NMC811", Month: month(2024, 12), CostUSDPerGWh: 15210000, CostUSDPerKWh: 17.4915, Breakdown: map[string]float64{"nickel": 12075000, "cobalt": 3135000}},
			{ChemistryID: "NMC811", Month: month(2025, 1), CostUSDPerGWh: 12150342, CostUSDPerKWh: 13.97, Breakdown: map[string]float64{"nickel": 12150342}, Missing: []string{"cobalt"}, Incomplete: true, IsForecast: true},
		},
	}
	return &service.Result{
		GeneratedAt: month(2025, 1),
		Sources:     map[string]string{"nickel": "primary", "cobalt": "fallback"},
		Forecasts:   []forecast.Result{cobalt, nickel},
		Monthly:     monthly,
		Annual: map[string][]chemistry.AnnualPoint{
			"NMC811": chemistry.Annual(monthly["NMC811"]),
		},
	}
}

func sampleReport() sensitivity.Report {
	return sensitivity.Report{
		ChemistryID: "NMC811",
		Month:       month(2025, 1),
		Magnitude:   0.1,
		Impacts: []sensitivity.Impact{
			{MaterialID: "nickel", BasePrice: 16200, DeltaUp: 1215000, DeltaDown: -1215000, CostDeltaUSDPerGWh: 1215000},
			{MaterialID: "cobalt", BasePrice: 33000, DeltaUp: 313500, DeltaDown: -313500, CostDeltaUSDPerGWh: 313500},
		},
	}
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWritePrices(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePrices(&buf, sampleResult().Forecasts))

	records := readCSV(t, buf.Bytes())
	require.Len(t, records, 5)
	assert.Equal(t, pricesHeader, records[0])
	assert.Equal(t, []string{"cobalt", "2024-12", "33000.00", "false", "false", "", "false"}, records[1])
	assert.Equal(t, []string{"nickel", "2024-12", "16100.00", "true", "false", "", "false"}, records[3])
	assert.Equal(t, []string{"nickel", "2025-01", "16200.46", "false", "true", "linear_fallback", "false"}, records[4])
}

func TestWriteAccuracy(t *testing.T) {
	res := sampleResult()
	var buf bytes.Buffer
	require.NoError(t, WriteAccuracy(&buf, res.Forecasts, res.Sources))

	records := readCSV(t, buf.Bytes())
	require.Len(t, records, 3)
	assert.Equal(t, []string{"cobalt", "fallback", "ETS", "3.2100", "24", "18", ""}, records[1])
	assert.Equal(t, "", records[2][3], "折数不足时 MAPE 留空")
	assert.Equal(t, "forecast: insufficient data", records[2][6])
}

func TestWriteMonthlyAndBreakdown(t *testing.T) {
	res := sampleResult()
	var monthly, breakdown bytes.Buffer
	require.NoError(t, WriteMonthly(&monthly, res.Monthly))
	require.NoError(t, WriteBreakdown(&breakdown, res.Monthly))

	rows := readCSV(t, monthly.Bytes())
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"NMC811", "2025-01", "12150342.00", "13.9700", "true", "true", "cobalt"}, rows[2])

	rows = readCSV(t, breakdown.Bytes())
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"NMC811", "2024-12", "cobalt", "3135000.00"}, rows[1])
	assert.Equal(t, []string{"NMC811", "2025-01", "nickel", "12150342.00"}, rows[3])
}

func TestWriteTornadoAndClamps(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTornado(&buf, []sensitivity.Report{sampleReport()}))
	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 3)
	assert.Equal(t, "nickel", rows[1][3])
	assert.Equal(t, "0.1000", rows[1][2])

	buf.Reset()
	require.NoError(t, WriteClamps(&buf, []scenario.Clamp{{MaterialID: "nickel", Month: month(2025, 2), Raw: -12.5}}))
	rows = readCSV(t, buf.Bytes())
	assert.Equal(t, []string{"nickel", "2025-02", "-12.50"}, rows[1])
}

func TestExporterWritesAllArtefacts(t *testing.T) {
	dir := t.TempDir()
	res := sampleResult()
	view := service.ScenarioView{
		Name:    "Nickel Shock",
		Monthly: res.Monthly,
		Annual:  res.Annual,
		Clamps:  []scenario.Clamp{{MaterialID: "cobalt", Month: month(2024, 12), Raw: -1}},
	}

	exp := New(Options{Dir: dir, Charts: true, Excel: true}, zerolog.Nop())
	written, err := exp.Write(Bundle{Result: res, Scenarios: []service.ScenarioView{view}, Sensitivity: []sensitivity.Report{sampleReport()}})
	require.NoError(t, err)

	for _, name := range []string{
		"prices.csv", "accuracy.csv", "chemistry_monthly.csv", "chemistry_breakdown.csv",
		"chemistry_annual.csv", "tornado.csv",
		"scenario_nickel_shock_monthly.csv", "scenario_nickel_shock_annual.csv", "scenario_nickel_shock_clamped.csv",
		"battery_costs.xlsx", "chemistry_costs.png", "tornado_nmc811.png",
	} {
		assert.Contains(t, written, filepath.Join(dir, name))
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	png, err := os.ReadFile(filepath.Join(dir, "chemistry_costs.png"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	f, err := excelize.OpenFile(filepath.Join(dir, "battery_costs.xlsx"))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Monthly", "Annual", "Breakdown", "Prices", "Accuracy", "Sensitivity", "Scenario Nickel Shock"}, f.GetSheetList())

	cell, err := f.GetCellValue("Monthly", "C2")
	require.NoError(t, err)
	assert.Equal(t, "15210000", cell)
}

func TestExporterRequiresResult(t *testing.T) {
	_, err := New(Options{Dir: t.TempDir()}, zerolog.Nop()).Write(Bundle{})
	assert.Error(t, err)
}

func TestChartsRejectEmptyInput(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WriteCostChart(&buf, map[string][]chemistry.CostPoint{"LFP": nil}), ErrNothingToPlot)
	assert.ErrorIs(t, WriteTornadoChart(&buf, sensitivity.Report{ChemistryID: "LFP"}), ErrNothingToPlot)
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "Scenario a b", sheetName("Scenario a/b"))
	assert.Len(t, sheetName("Scenario with a very long descriptive name"), maxSheetName)
}
