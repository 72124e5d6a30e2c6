package series

import (
	"sort"
	"time"
)

// Quote is a single raw price observation handed over by a quote source.
type Quote struct {
	MaterialID string
	Timestamp  time.Time
	RawValue   float64
	Unit       string
	Currency   string
	Source     string
}

// Observation is a normalised USD/ton value attributed to a month.
type Observation struct {
	Month time.Time
	Price float64
}

// PricePoint is one month of a gap-free monthly series.
type PricePoint struct {
	MaterialID     string
	Month          time.Time
	PriceUSDPerTon float64
	IsInterpolated bool
}

// MonthOf truncates t to the first day of its UTC calendar month. Offsets are
// applied first, so local midnight on the 1st east of UTC falls in the prior month.
func MonthOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// AddMonths shifts a month start by n months.
func AddMonths(month time.Time, n int) time.Time {
	return time.Date(month.Year(), month.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
}

// MonthsBetween counts whole months from a to b (b after a gives a positive value).
func MonthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// Resample aligns observations to a gap-free monthly grid spanning the first to
// the last observed month. Same-month observations are averaged and missing
// months are forward-filled.
func Resample(materialID string, obs []Observation) []PricePoint {
	if len(obs) == 0 {
		return []PricePoint{}
	}
	monthly := averageByMonth(obs)
	months := sortedMonths(monthly)
	return fill(materialID, monthly, months[0], months[len(months)-1])
}

// ResampleRange is Resample over an explicit [from, to] month range. Months
// before the first observation are back-filled from it; months after the last
// observation are forward-filled.
func ResampleRange(materialID string, obs []Observation, from, to time.Time) []PricePoint {
	if len(obs) == 0 {
		return []PricePoint{}
	}
	monthly := averageByMonth(obs)
	months := sortedMonths(monthly)

	from = MonthOf(from)
	to = MonthOf(to)
	if from.IsZero() || months[0].Before(from) {
		from = months[0]
	}
	if to.IsZero() || months[len(months)-1].After(to) {
		to = months[len(months)-1]
	}
	return fill(materialID, monthly, from, to)
}

func averageByMonth(obs []Observation) map[time.Time]float64 {
	sums := make(map[time.Time]float64, len(obs))
	counts := make(map[time.Time]int, len(obs))
	for _, o := range obs {
		m := MonthOf(o.Month)
		sums[m] += o.Price
		counts[m]++
	}
	for m, sum := range sums {
		sums[m] = sum / float64(counts[m])
	}
	return sums
}

func sortedMonths(monthly map[time.Time]float64) []time.Time {
	months := make([]time.Time, 0, len(monthly))
	for m := range monthly {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	return months
}

func fill(materialID string, monthly map[time.Time]float64, from, to time.Time) []PricePoint {
	months := sortedMonths(monthly)
	first := monthly[months[0]]

	points := make([]PricePoint, 0, MonthsBetween(from, to)+1)
	var last float64
	seen := false
	for m := from; !m.After(to); m = AddMonths(m, 1) {
		price, ok := monthly[m]
		switch {
		case ok:
			last = price
			seen = true
		case seen:
			price = last
		default:
			price = first
		}
		points = append(points, PricePoint{
			MaterialID:     materialID,
			Month:          m,
			PriceUSDPerTon: price,
			IsInterpolated: !ok,
		})
	}
	return points
}
