package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battery-cost-forecast/internal/alerting"
	"battery-cost-forecast/internal/config"
	"battery-cost-forecast/internal/scenario"
	"battery-cost-forecast/internal/service"
	"battery-cost-forecast/internal/storage"
)

const intensityCSV = `chemistry,material,tons_per_gwh
NMC811,nickel,750
NMC811,cobalt,95
NMC811,manganese,90
LFP,lithium,560
LFP,graphite,1000
`

const scenariosYAML = `scenarios:
  - name: nickel_squeeze
    description: nickel supply shock
    adjustments:
      - material: nickel
        price_shock_pct: 0.25
  - name: recycling
    adjustments:
      - material: Cobalt
        recycling_offset_pct: 0.3
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func quotesCSV() string {
	var b strings.Builder
	b.WriteString("material_id,timestamp,raw_value,unit,currency,source\n")
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 24; i++ {
		ts := start.AddDate(0, i, 0).Format("2006-01-02")
		fmt.Fprintf(&b, "nickel,%s,%d,t,USD,primary\n", ts, 15000+100*i)
		fmt.Fprintf(&b, "cobalt,%s,%d,t,USD,primary\n", ts, 30000+50*i)
	}
	b.WriteString("nickel,not-a-date,1,t,USD,primary\n")
	return b.String()
}

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Sources: config.SourcesConfig{
			Precedence: []string{"primary", "fallback", "baseline"},
			CSV:        []config.CSVSourceConfig{{Path: writeFile(t, dir, "quotes.csv", quotesCSV())}},
		},
		Forecast: config.ForecastConfig{
			WindowMonths:    60,
			HorizonMonths:   12,
			MinObservations: 6,
			Workers:         2,
		},
		Intensity: config.IntensityConfig{
			Path:            writeFile(t, dir, "intensity.csv", intensityCSV),
			PackOverheadPct: 0.1,
		},
		Scenario: config.ScenarioConfig{
			File:                 writeFile(t, dir, "scenarios.yaml", scenariosYAML),
			SensitivityMagnitude: 0.1,
		},
		Alerting: config.AlertingConfig{
			ThresholdPct: 0.001,
			Channels:     []string{"telegram"},
		},
		Export: config.ExportConfig{
			Dir:   filepath.Join(dir, "out"),
			Excel: true,
		},
		Metrics: config.MetricsConfig{Namespace: "app_test"},
	}

	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func TestBuildWritesExportBundle(t *testing.T) {
	a, out := newTestApp(t)

	require.NoError(t, a.Build(context.Background(), BuildOptions{}))

	dir := a.Config.Export.Dir
	for _, name := range []string{
		"prices.csv",
		"accuracy.csv",
		"chemistry_monthly.csv",
		"chemistry_annual.csv",
		"tornado.csv",
		"scenario_nickel_squeeze_annual.csv",
		"scenario_recycling_monthly.csv",
		"battery_costs.xlsx",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.Contains(t, out.String(), "files to "+dir)
}

func TestBuildNoExport(t *testing.T) {
	a, out := newTestApp(t)

	require.NoError(t, a.Build(context.Background(), BuildOptions{NoExport: true}))
	assert.NoDirExists(t, a.Config.Export.Dir)
	assert.Empty(t, out.String())
}

func TestExportSelectedScenario(t *testing.T) {
	a, _ := newTestApp(t)
	dir := filepath.Join(t.TempDir(), "custom")

	require.NoError(t, a.Export(context.Background(), ExportOptions{Dir: dir, Scenarios: []string{"recycling"}}))
	assert.FileExists(t, filepath.Join(dir, "scenario_recycling_annual.csv"))
	assert.NoFileExists(t, filepath.Join(dir, "scenario_nickel_squeeze_annual.csv"))

	err := a.Export(context.Background(), ExportOptions{Dir: dir, Scenarios: []string{"missing"}})
	require.ErrorIs(t, err, scenario.ErrUnknownScenario)
}

func TestMissingIntensityTableIsFatal(t *testing.T) {
	a, _ := newTestApp(t)
	a.Config.Intensity.Path = filepath.Join(t.TempDir(), "absent.csv")

	err := a.Build(context.Background(), BuildOptions{NoExport: true})
	require.ErrorIs(t, err, service.ErrNoIntensityTable)

	err = a.Show(context.Background(), ShowOptions{What: "annual"})
	require.ErrorIs(t, err, service.ErrNoIntensityTable)
}

func TestShowTables(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.Show(ctx, ShowOptions{What: "annual", Chemistry: "NMC811"}))
	assert.Contains(t, out.String(), "Chemistry")
	assert.Contains(t, out.String(), "NMC811")
	assert.NotContains(t, out.String(), "LFP")

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{What: "costs", Limit: 2}))
	// header plus two rows per chemistry
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 5)

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{What: "accuracy"}))
	assert.Contains(t, out.String(), "nickel")
	assert.Contains(t, out.String(), "graphite_battery")

	err := a.Show(ctx, ShowOptions{What: "runs"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database not configured")

	err = a.Show(ctx, ShowOptions{What: "bogus"})
	require.Error(t, err)
}

func TestScenarioPrintsComparison(t *testing.T) {
	a, out := newTestApp(t)

	require.NoError(t, a.Scenario(context.Background(), ScenarioOptions{Preset: "nickel_squeeze"}))
	assert.Contains(t, out.String(), "Scenario: nickel_squeeze")
	assert.Contains(t, out.String(), "Change%")
	assert.Contains(t, out.String(), "NMC811")

	out.Reset()
	require.NoError(t, a.Scenario(context.Background(), ScenarioOptions{Shock: []string{"Nickel=0.5"}}))
	assert.Contains(t, out.String(), "Scenario: adhoc")
}

func TestResolveScenario(t *testing.T) {
	a, _ := newTestApp(t)

	_, err := a.resolveScenario(ScenarioOptions{})
	require.Error(t, err)

	_, err = a.resolveScenario(ScenarioOptions{Preset: "nickel_squeeze", Duty: []string{"nickel=0.1"}})
	require.Error(t, err)

	sc, err := a.resolveScenario(ScenarioOptions{Preset: "recycling"})
	require.NoError(t, err)
	assert.Equal(t, "recycling", sc.Name)

	sc, err = a.resolveScenario(ScenarioOptions{Shock: []string{"nickel=0.1"}, Duty: []string{"graphite=0.25"}})
	require.NoError(t, err)
	assert.Equal(t, "adhoc", sc.Name)
	assert.Len(t, sc.Adjustments, 2)

	_, err = a.resolveScenario(ScenarioOptions{Shock: []string{"nickel"}})
	require.Error(t, err)
}

func TestCanonicalAdjustments(t *testing.T) {
	a, _ := newTestApp(t)
	a.Config.Intensity.Aliases = map[string]string{"ni": "nickel"}

	got := a.canonicalAdjustments([]scenario.Adjustment{
		{MaterialID: "Graphite", DutyPct: 0.25},
		{MaterialID: "NI", PriceShockPct: 0.1},
		{MaterialID: "Cobalt Hydroxide"},
	})
	require.Len(t, got, 3)
	assert.Equal(t, "graphite_battery", got[0].MaterialID)
	assert.Equal(t, 0.25, got[0].DutyPct)
	assert.Equal(t, "nickel", got[1].MaterialID)
	assert.Equal(t, "cobalt_hydroxide", got[2].MaterialID)
}

func TestSensitivityPrintsTornado(t *testing.T) {
	a, out := newTestApp(t)
	dir := t.TempDir()

	require.NoError(t, a.Sensitivity(context.Background(), SensitivityOptions{Chemistry: "NMC811", ExportDir: dir}))
	assert.Contains(t, out.String(), "NMC811 @ 2025-01")
	assert.Contains(t, out.String(), "nickel")
	assert.FileExists(t, filepath.Join(dir, "tornado.csv"))

	out.Reset()
	require.NoError(t, a.Sensitivity(context.Background(), SensitivityOptions{Month: "2024-06", Magnitude: 0.2}))
	assert.Contains(t, out.String(), "LFP @ 2024-06")
	assert.Contains(t, out.String(), "skipped (no price): lithium_carbonate")

	err := a.Sensitivity(context.Background(), SensitivityOptions{Month: "June"})
	require.Error(t, err)
}

type recordingNotifier struct {
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.notes = append(r.notes, n)
	return nil
}

func TestSimulateAlert(t *testing.T) {
	a, out := newTestApp(t)
	notifier := &recordingNotifier{}

	require.NoError(t, a.simulateAlert(context.Background(), notifier, 0))
	require.Len(t, notifier.notes, 1)
	note := notifier.notes[0]
	assert.True(t, strings.HasPrefix(note.RunID, "simulated-"))
	assert.Equal(t, "模拟告警", note.AdditionalMsg)
	assert.NotEmpty(t, note.Moves)
	assert.Contains(t, out.String(), "sent")

	out.Reset()
	notifier.notes = nil
	require.NoError(t, a.simulateAlert(context.Background(), notifier, 1e6))
	assert.Empty(t, notifier.notes)
	assert.Contains(t, out.String(), "no chemistry moved")
}

func TestSimulateAlertRequiresChannel(t *testing.T) {
	a, _ := newTestApp(t)

	require.Error(t, a.SimulateAlert(context.Background(), 0))

	a.Config.Alerting.Enabled = true
	require.Error(t, a.SimulateAlert(context.Background(), 0))
}

type storedSnapshot struct {
	accuracy []storage.AccuracyRow
	costs    map[string][]storage.ChemistryCostRow
	asked    []string
}

func (s *storedSnapshot) ListAccuracy(context.Context) ([]storage.AccuracyRow, error) {
	return s.accuracy, nil
}

func (s *storedSnapshot) ListChemistryCosts(_ context.Context, chemistryID string, _, _ time.Time) ([]storage.ChemistryCostRow, error) {
	s.asked = append(s.asked, chemistryID)
	return s.costs[chemistryID], nil
}

func storedCost(chem string, month time.Time, gwh string, forecast bool) storage.ChemistryCostRow {
	v := decimal.RequireFromString(gwh)
	return storage.ChemistryCostRow{
		ChemistryID:   chem,
		Month:         month,
		CostUSDPerGWh: v,
		CostUSDPerKWh: v.Div(decimal.NewFromInt(1_000_000)),
		Breakdown:     map[string]decimal.Decimal{"nickel": v},
		IsForecast:    forecast,
	}
}

func TestShowPersistedTables(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()
	mape := decimal.RequireFromString("3.25")
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	snap := &storedSnapshot{
		accuracy: []storage.AccuracyRow{
			{MaterialID: "nickel", MAPE: &mape, WindowMonths: 60, Folds: 54, ModelUsed: "ets"},
			{MaterialID: "cobalt", ModelUsed: "linear_fallback", FallbackReason: "too few\nobservations"},
		},
		costs: map[string][]storage.ChemistryCostRow{
			"NMC811": {
				storedCost("NMC811", jan, "12000000", false),
				storedCost("NMC811", jan.AddDate(0, 1, 0), "13000000", true),
			},
		},
	}

	require.NoError(t, a.printPersisted(ctx, snap, ShowOptions{What: "accuracy"}))
	assert.Contains(t, out.String(), "3.25")
	assert.Contains(t, out.String(), "n/a")
	assert.Contains(t, out.String(), "too few observations")

	out.Reset()
	require.NoError(t, a.printPersisted(ctx, snap, ShowOptions{What: "costs", Chemistry: "NMC811"}))
	assert.Equal(t, []string{"NMC811"}, snap.asked)
	assert.Contains(t, out.String(), "2024-02")
	assert.Contains(t, out.String(), "13.00")

	// without --chemistry every chemistry in the intensity table is read
	out.Reset()
	snap.asked = nil
	require.NoError(t, a.printPersisted(ctx, snap, ShowOptions{What: "annual"}))
	assert.ElementsMatch(t, []string{"NMC811", "LFP"}, snap.asked)
	assert.Contains(t, out.String(), "2024")
	assert.Contains(t, out.String(), "12.50")
	assert.NotContains(t, out.String(), "LFP")

	require.Error(t, a.printPersisted(ctx, snap, ShowOptions{What: "tornado"}))
}

func TestShowPersistedRequiresDatabase(t *testing.T) {
	a, _ := newTestApp(t)

	err := a.Show(context.Background(), ShowOptions{What: "costs", Persisted: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database not configured")
}
