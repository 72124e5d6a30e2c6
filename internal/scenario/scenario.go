package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"battery-cost-forecast/internal/chemistry"
)

// ErrUnknownScenario is returned when a named preset does not exist.
var ErrUnknownScenario = errors.New("scenario: unknown scenario")

// Adjustment shocks one material's price. Percentages are fractions: 0.1 is 10%.
type Adjustment struct {
	MaterialID         string  `yaml:"material" mapstructure:"material"`
	PriceShockPct      float64 `yaml:"price_shock_pct" mapstructure:"price_shock_pct"`
	RecyclingOffsetPct float64 `yaml:"recycling_offset_pct" mapstructure:"recycling_offset_pct"`
	DutyPct            float64 `yaml:"duty_pct" mapstructure:"duty_pct"`
}

// Factor is the multiplier the adjustment applies to a base price.
func (a Adjustment) Factor() float64 {
	return (1 + a.PriceShockPct) * (1 - a.RecyclingOffsetPct) * (1 + a.DutyPct)
}

// Clamp records a material whose adjusted price went negative and was set to zero.
type Clamp struct {
	MaterialID string
	Month      time.Time
	Raw        float64
}

// Apply returns an adjusted copy of base. Adjustments for the same material
// compose multiplicatively; materials without adjustments pass through.
func Apply(base map[string]float64, adjustments []Adjustment) (map[string]float64, []Clamp) {
	factors := combine(adjustments)

	adjusted := make(map[string]float64, len(base))
	var clamps []Clamp
	for material, price := range base {
		factor, ok := factors[material]
		if !ok {
			adjusted[material] = price
			continue
		}
		v := price * factor
		if v < 0 {
			clamps = append(clamps, Clamp{MaterialID: material, Raw: v})
			v = 0
		}
		adjusted[material] = v
	}
	sort.Slice(clamps, func(i, j int) bool { return clamps[i].MaterialID < clamps[j].MaterialID })
	return adjusted, clamps
}

func combine(adjustments []Adjustment) map[string]float64 {
	factors := make(map[string]float64, len(adjustments))
	for _, a := range adjustments {
		current, ok := factors[a.MaterialID]
		if !ok {
			current = 1
		}
		factors[a.MaterialID] = current * a.Factor()
	}
	return factors
}

// ApplyPanel applies adjustments to every month of a panel. The base panel is
// left untouched.
func ApplyPanel(base chemistry.Panel, adjustments []Adjustment) (chemistry.Panel, []Clamp) {
	factors := combine(adjustments)
	out := base.Clone()

	var clamps []Clamp
	for _, month := range out.Months() {
		for material, cell := range out[month] {
			factor, ok := factors[material]
			if !ok {
				continue
			}
			v := cell.Price * factor
			if v < 0 {
				clamps = append(clamps, Clamp{MaterialID: material, Month: month, Raw: v})
				v = 0
			}
			cell.Price = v
			out[month][material] = cell
		}
	}
	sort.SliceStable(clamps, func(i, j int) bool {
		if !clamps[i].Month.Equal(clamps[j].Month) {
			return clamps[i].Month.Before(clamps[j].Month)
		}
		return clamps[i].MaterialID < clamps[j].MaterialID
	})
	return out, clamps
}

// Scenario is a named set of adjustments.
type Scenario struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Adjustments []Adjustment `yaml:"adjustments"`
}

// Catalog holds named scenario presets.
type Catalog struct {
	scenarios map[string]Scenario
}

// NewCatalog indexes scenarios by name.
func NewCatalog(scenarios ...Scenario) *Catalog {
	c := &Catalog{scenarios: make(map[string]Scenario, len(scenarios))}
	for _, s := range scenarios {
		c.scenarios[s.Name] = s
	}
	return c
}

// Get returns a scenario by name.
func (c *Catalog) Get(name string) (Scenario, error) {
	s, ok := c.scenarios[name]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}
	return s, nil
}

// Names lists scenario names in lexical order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.scenarios))
	for n := range c.scenarios {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadFile reads a YAML document with a top-level `scenarios:` list.
func LoadFile(path string) (*Catalog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario file: %w", err)
	}
	defer file.Close()
	return Read(file)
}

// Read decodes a scenario catalog from YAML.
func Read(r io.Reader) (*Catalog, error) {
	var doc struct {
		Scenarios []Scenario `yaml:"scenarios"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode scenarios: %w", err)
	}
	for i, s := range doc.Scenarios {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("scenario %d has no name", i+1)
		}
	}
	return NewCatalog(doc.Scenarios...), nil
}

// ParseAssignments parses "material=value" pairs such as "nickel=0.1".
func ParseAssignments(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected material=value", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value in %q: %w", pair, err)
		}
		out[strings.TrimSpace(key)] = v
	}
	return out, nil
}

// FromAssignments merges per-field assignment maps into adjustments ordered by material.
func FromAssignments(shock, recycling, duty map[string]float64) []Adjustment {
	byMaterial := make(map[string]*Adjustment)
	get := func(m string) *Adjustment {
		if a, ok := byMaterial[m]; ok {
			return a
		}
		a := &Adjustment{MaterialID: m}
		byMaterial[m] = a
		return a
	}
	for m, v := range shock {
		get(m).PriceShockPct = v
	}
	for m, v := range recycling {
		get(m).RecyclingOffsetPct = v
	}
	for m, v := range duty {
		get(m).DutyPct = v
	}

	materials := make([]string, 0, len(byMaterial))
	for m := range byMaterial {
		materials = append(materials, m)
	}
	sort.Strings(materials)
	out := make([]Adjustment, 0, len(materials))
	for _, m := range materials {
		out = append(out, *byMaterial[m])
	}
	return out
}
