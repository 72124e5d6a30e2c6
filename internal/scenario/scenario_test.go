package scenario

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battery-cost-forecast/internal/chemistry"
)

func TestApplyZeroAdjustmentIsIdentity(t *testing.T) {
	base := map[string]float64{"nickel": 17000, "cobalt": 33000, "copper": 9000}
	adjusted, clamps := Apply(base, []Adjustment{
		{MaterialID: "nickel"},
		{MaterialID: "cobalt"},
	})
	assert.Equal(t, base, adjusted)
	assert.Empty(t, clamps)
}

func TestApplyComposesMultiplicatively(t *testing.T) {
	base := map[string]float64{"nickel": 20000, "copper": 9000}
	adjusted, _ := Apply(base, []Adjustment{
		{MaterialID: "nickel", PriceShockPct: 0.1, RecyclingOffsetPct: 0.2, DutyPct: 0.05},
	})
	assert.InDelta(t, 20000*1.1*0.8*1.05, adjusted["nickel"], 1e-9)
	assert.Equal(t, 9000.0, adjusted["copper"])

	twice, _ := Apply(base, []Adjustment{
		{MaterialID: "nickel", PriceShockPct: 0.1},
		{MaterialID: "nickel", PriceShockPct: 0.1},
	})
	assert.InDelta(t, 20000*1.1*1.1, twice["nickel"], 1e-9)
}

func TestApplyClampsNegative(t *testing.T) {
	adjusted, clamps := Apply(map[string]float64{"cobalt": 30000}, []Adjustment{
		{MaterialID: "cobalt", PriceShockPct: -1.5},
	})
	assert.Equal(t, 0.0, adjusted["cobalt"])
	require.Len(t, clamps, 1)
	assert.Equal(t, "cobalt", clamps[0].MaterialID)
	assert.InDelta(t, -15000, clamps[0].Raw, 1e-9)
}

func TestApplyDoesNotMutateBase(t *testing.T) {
	base := map[string]float64{"nickel": 100}
	_, _ = Apply(base, []Adjustment{{MaterialID: "nickel", PriceShockPct: 1}})
	assert.Equal(t, 100.0, base["nickel"])
}

func TestApplyPanel(t *testing.T) {
	jan := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	base := make(chemistry.Panel)
	base.Set(jan, "nickel", chemistry.Cell{Price: 100})
	base.Set(feb, "nickel", chemistry.Cell{Price: 200, IsForecast: true})
	base.Set(feb, "copper", chemistry.Cell{Price: 50})

	adjusted, clamps := ApplyPanel(base, []Adjustment{{MaterialID: "nickel", RecyclingOffsetPct: 0.5}})
	assert.Empty(t, clamps)
	assert.Equal(t, 50.0, adjusted[jan]["nickel"].Price)
	assert.Equal(t, 100.0, adjusted[feb]["nickel"].Price)
	assert.True(t, adjusted[feb]["nickel"].IsForecast)
	assert.Equal(t, 50.0, adjusted[feb]["copper"].Price)
	assert.Equal(t, 100.0, base[jan]["nickel"].Price)
}

func TestReadCatalog(t *testing.T) {
	doc := `scenarios:
  - name: nickel_squeeze
    description: Indonesian export ban
    adjustments:
      - material: nickel
        price_shock_pct: 0.25
  - name: circular
    adjustments:
      - material: cobalt
        recycling_offset_pct: 0.3
      - material: lithium_carbonate
        recycling_offset_pct: 0.2
        duty_pct: 0.1
`
	catalog, err := Read(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"circular", "nickel_squeeze"}, catalog.Names())

	s, err := catalog.Get("circular")
	require.NoError(t, err)
	require.Len(t, s.Adjustments, 2)
	assert.Equal(t, 0.1, s.Adjustments[1].DutyPct)

	_, err = catalog.Get("missing")
	assert.True(t, errors.Is(err, ErrUnknownScenario))

	_, err = Read(strings.NewReader("scenarios:\n  - description: nameless\n"))
	assert.Error(t, err)
}

func TestParseAssignments(t *testing.T) {
	got, err := ParseAssignments([]string{"nickel=0.1", " cobalt = -0.2 "})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"nickel": 0.1, "cobalt": -0.2}, got)

	_, err = ParseAssignments([]string{"nickel"})
	assert.Error(t, err)
	_, err = ParseAssignments([]string{"nickel=abc"})
	assert.Error(t, err)
}

func TestFromAssignments(t *testing.T) {
	adj := FromAssignments(
		map[string]float64{"nickel": 0.1},
		map[string]float64{"cobalt": 0.3},
		map[string]float64{"nickel": 0.05},
	)
	assert.Equal(t, []Adjustment{
		{MaterialID: "cobalt", RecyclingOffsetPct: 0.3},
		{MaterialID: "nickel", PriceShockPct: 0.1, DutyPct: 0.05},
	}, adj)
}
