package intensity

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrEmptyTable is returned when the intensity table is absent or has no rows.
	ErrEmptyTable = errors.New("intensity: table is empty")
	// ErrInvalidRow flags malformed reference data.
	ErrInvalidRow = errors.New("intensity: invalid row")
)

// Row states how many tons of a material one GWh of a chemistry consumes.
type Row struct {
	ChemistryID string  `yaml:"chemistry"`
	MaterialID  string  `yaml:"material"`
	TonsPerGWh  float64 `yaml:"tons_per_gwh"`
}

// DefaultAliases maps intensity-sheet material names onto price series ids.
func DefaultAliases() map[string]string {
	return map[string]string{
		"manganese": "manganese_sulfate",
		"graphite":  "graphite_battery",
		"lithium":   "lithium_carbonate",
	}
}

// Table is read-only chemistry → material intensity reference data.
type Table struct {
	rows map[string][]Row
}

// NewTable validates rows and builds a Table. Material names are normalised
// and mapped through aliases.
func NewTable(rows []Row, aliases map[string]string) (*Table, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}

	normalizedAliases := make(map[string]string, len(aliases))
	for from, to := range aliases {
		normalizedAliases[NormalizeName(from)] = NormalizeName(to)
	}

	byChem := make(map[string][]Row)
	seen := make(map[[2]string]bool, len(rows))
	for i, r := range rows {
		chem := strings.TrimSpace(r.ChemistryID)
		material := NormalizeName(r.MaterialID)
		if alias, ok := normalizedAliases[material]; ok {
			material = alias
		}
		if chem == "" || material == "" {
			return nil, fmt.Errorf("%w: row %d missing chemistry or material", ErrInvalidRow, i+1)
		}
		if r.TonsPerGWh < 0 || math.IsNaN(r.TonsPerGWh) || math.IsInf(r.TonsPerGWh, 0) {
			return nil, fmt.Errorf("%w: row %d (%s/%s) has intensity %v", ErrInvalidRow, i+1, chem, material, r.TonsPerGWh)
		}
		key := [2]string{chem, material}
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate %s/%s", ErrInvalidRow, chem, material)
		}
		seen[key] = true
		byChem[chem] = append(byChem[chem], Row{ChemistryID: chem, MaterialID: material, TonsPerGWh: r.TonsPerGWh})
	}

	for chem := range byChem {
		sort.Slice(byChem[chem], func(i, j int) bool {
			return byChem[chem][i].MaterialID < byChem[chem][j].MaterialID
		})
	}
	return &Table{rows: byChem}, nil
}

// NormalizeName lower-cases a material name and replaces spaces with underscores.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Chemistries lists chemistry ids in lexical order.
func (t *Table) Chemistries() []string {
	chems := make([]string, 0, len(t.rows))
	for c := range t.rows {
		chems = append(chems, c)
	}
	sort.Strings(chems)
	return chems
}

// Rows returns a copy of the rows for a chemistry, ordered by material.
func (t *Table) Rows(chemistry string) ([]Row, bool) {
	rows, ok := t.rows[chemistry]
	if !ok {
		return nil, false
	}
	return append([]Row(nil), rows...), true
}

// Materials lists every material referenced by any chemistry.
func (t *Table) Materials() []string {
	set := make(map[string]struct{})
	for _, rows := range t.rows {
		for _, r := range rows {
			set[r.MaterialID] = struct{}{}
		}
	}
	materials := make([]string, 0, len(set))
	for m := range set {
		materials = append(materials, m)
	}
	sort.Strings(materials)
	return materials
}

// All returns every row ordered by chemistry then material.
func (t *Table) All() []Row {
	var out []Row
	for _, c := range t.Chemistries() {
		out = append(out, t.rows[c]...)
	}
	return out
}

// Load reads a CSV or YAML intensity file, picked by extension.
func Load(path string, aliases map[string]string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: no intensity file configured", ErrEmptyTable)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open intensity table: %w", err)
	}
	defer file.Close()

	var rows []Row
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		rows, err = ReadYAML(file)
	default:
		rows, err = ReadCSV(file)
	}
	if err != nil {
		return nil, err
	}
	return NewTable(rows, aliases)
}

// ReadCSV parses rows with a chemistry,material,tons_per_gwh header.
func ReadCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyTable
	}
	if err != nil {
		return nil, fmt.Errorf("read intensity header: %w", err)
	}

	idx := map[string]int{}
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"chemistry", "material", "tons_per_gwh"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrInvalidRow, col)
		}
	}

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read intensity line %d: %w", line, err)
		}
		tons, err := strconv.ParseFloat(strings.TrimSpace(record[idx["tons_per_gwh"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d tons_per_gwh: %v", ErrInvalidRow, line, err)
		}
		rows = append(rows, Row{
			ChemistryID: strings.TrimSpace(record[idx["chemistry"]]),
			MaterialID:  record[idx["material"]],
			TonsPerGWh:  tons,
		})
	}
	return rows, nil
}

type yamlDocument struct {
	Chemistries map[string]map[string]float64 `yaml:"chemistries"`
	Rows        []Row                         `yaml:"rows"`
}

// ReadYAML accepts either a `rows:` list or a `chemistries:` map of
// chemistry → material → tons_per_gwh.
func ReadYAML(r io.Reader) ([]Row, error) {
	var doc yamlDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, ErrEmptyTable
		}
		return nil, fmt.Errorf("decode intensity yaml: %w", err)
	}

	rows := append([]Row(nil), doc.Rows...)
	chems := make([]string, 0, len(doc.Chemistries))
	for c := range doc.Chemistries {
		chems = append(chems, c)
	}
	sort.Strings(chems)
	for _, c := range chems {
		materials := make([]string, 0, len(doc.Chemistries[c]))
		for m := range doc.Chemistries[c] {
			materials = append(materials, m)
		}
		sort.Strings(materials)
		for _, m := range materials {
			rows = append(rows, Row{ChemistryID: c, MaterialID: m, TonsPerGWh: doc.Chemistries[c][m]})
		}
	}
	return rows, nil
}
