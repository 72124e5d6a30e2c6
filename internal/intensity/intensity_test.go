package intensity

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTableRejectsEmpty(t *testing.T) {
	_, err := NewTable(nil, nil)
	assert.True(t, errors.Is(err, ErrEmptyTable))
}

func TestNewTableNormalisesAndAliases(t *testing.T) {
	table, err := NewTable([]Row{
		{ChemistryID: "NMC811", MaterialID: "Nickel", TonsPerGWh: 750},
		{ChemistryID: "NMC811", MaterialID: "Manganese", TonsPerGWh: 60},
		{ChemistryID: "LFP", MaterialID: "Lithium Carbonate", TonsPerGWh: 560},
	}, DefaultAliases())
	require.NoError(t, err)

	assert.Equal(t, []string{"LFP", "NMC811"}, table.Chemistries())
	rows, ok := table.Rows("NMC811")
	require.True(t, ok)
	assert.Equal(t, "manganese_sulfate", rows[0].MaterialID)
	assert.Equal(t, "nickel", rows[1].MaterialID)
	assert.Equal(t, []string{"lithium_carbonate", "manganese_sulfate", "nickel"}, table.Materials())

	_, ok = table.Rows("NCA")
	assert.False(t, ok)
}

func TestNewTableRejectsBadRows(t *testing.T) {
	_, err := NewTable([]Row{
		{ChemistryID: "LFP", MaterialID: "iron", TonsPerGWh: 1},
		{ChemistryID: "LFP", MaterialID: "Iron", TonsPerGWh: 2},
	}, nil)
	assert.True(t, errors.Is(err, ErrInvalidRow))

	_, err = NewTable([]Row{{ChemistryID: "LFP", MaterialID: "iron", TonsPerGWh: -1}}, nil)
	assert.True(t, errors.Is(err, ErrInvalidRow))
}

func TestRowsReturnsCopy(t *testing.T) {
	table, err := NewTable([]Row{{ChemistryID: "NMC811", MaterialID: "nickel", TonsPerGWh: 22}}, nil)
	require.NoError(t, err)

	rows, _ := table.Rows("NMC811")
	rows[0].TonsPerGWh = 0

	again, _ := table.Rows("NMC811")
	assert.Equal(t, 22.0, again[0].TonsPerGWh)
}

func TestReadCSV(t *testing.T) {
	input := "chemistry,material,tons_per_gwh\nNMC811,Nickel,750\nNMC811, Cobalt ,95\n"
	rows, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "NMC811", rows[1].ChemistryID)
	assert.Equal(t, 95.0, rows[1].TonsPerGWh)

	_, err = ReadCSV(strings.NewReader("chemistry,material\nLFP,iron\n"))
	assert.True(t, errors.Is(err, ErrInvalidRow))

	_, err = ReadCSV(strings.NewReader(""))
	assert.True(t, errors.Is(err, ErrEmptyTable))
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intensity.yaml")
	content := `chemistries:
  NMC811:
    nickel: 750
    cobalt: 95
rows:
  - chemistry: LFP
    material: lithium
    tons_per_gwh: 560
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	table, err := Load(path, DefaultAliases())
	require.NoError(t, err)
	assert.Len(t, table.All(), 3)
	rows, _ := table.Rows("LFP")
	assert.Equal(t, "lithium_carbonate", rows[0].MaterialID)
}

func TestLoadMissingPath(t *testing.T) {
	_, err := Load("", nil)
	assert.True(t, errors.Is(err, ErrEmptyTable))

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"), nil)
	assert.Error(t, err)
}
