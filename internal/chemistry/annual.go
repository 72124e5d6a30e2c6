package chemistry

import (
	"sort"
)

// AnnualPoint averages a calendar year of monthly cost points.
type AnnualPoint struct {
	ChemistryID   string
	Year          int
	CostUSDPerGWh float64
	CostUSDPerKWh float64
	Breakdown     map[string]float64
	Months        int
	Partial       bool
	Incomplete    bool
	HasForecast   bool
}

// Annual groups monthly points by calendar year. Years with fewer than twelve
// months are averaged over the months present and flagged Partial.
func Annual(points []CostPoint) []AnnualPoint {
	byYear := make(map[int][]CostPoint)
	for _, p := range points {
		byYear[p.Month.Year()] = append(byYear[p.Month.Year()], p)
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	out := make([]AnnualPoint, 0, len(years))
	for _, y := range years {
		months := byYear[y]
		n := float64(len(months))
		ap := AnnualPoint{
			ChemistryID: months[0].ChemistryID,
			Year:        y,
			Breakdown:   make(map[string]float64),
			Months:      len(months),
			Partial:     len(months) < 12,
		}

		sums := make(map[string]float64)
		var kwh float64
		for _, m := range months {
			for material, v := range m.Breakdown {
				sums[material] += v
			}
			kwh += m.CostUSDPerKWh
			ap.Incomplete = ap.Incomplete || m.Incomplete
			ap.HasForecast = ap.HasForecast || m.IsForecast
		}

		materials := make([]string, 0, len(sums))
		for material := range sums {
			materials = append(materials, material)
		}
		sort.Strings(materials)
		for _, material := range materials {
			avg := sums[material] / n
			ap.Breakdown[material] = avg
			ap.CostUSDPerGWh += avg
		}
		ap.CostUSDPerKWh = kwh / n
		out = append(out, ap)
	}
	return out
}
