package alerting

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"battery-cost-forecast/internal/chemistry"
)

var hundred = decimal.NewFromInt(100)

// DetectMoves compares each chemistry's last observed month with the first
// forecast month and keeps moves whose absolute change reaches thresholdPct.
func DetectMoves(costs map[string][]chemistry.CostPoint, thresholdPct decimal.Decimal) []CostMove {
	chems := make([]string, 0, len(costs))
	for c := range costs {
		chems = append(chems, c)
	}
	sort.Strings(chems)

	var moves []CostMove
	for _, chem := range chems {
		from, to, ok := boundary(costs[chem])
		if !ok || from.CostUSDPerGWh == 0 {
			continue
		}
		fromCost := decimal.NewFromFloat(from.CostUSDPerGWh)
		toCost := decimal.NewFromFloat(to.CostUSDPerGWh)
		change := toCost.Sub(fromCost).Div(fromCost).Mul(hundred)
		if change.Abs().LessThan(thresholdPct) {
			continue
		}
		moves = append(moves, CostMove{
			ChemistryID: chem,
			From:        from.Month,
			To:          to.Month,
			FromCost:    fromCost,
			ToCost:      toCost,
			ChangePct:   change,
			Incomplete:  from.Incomplete || to.Incomplete,
		})
	}
	return moves
}

func boundary(points []chemistry.CostPoint) (chemistry.CostPoint, chemistry.CostPoint, bool) {
	for i := 1; i < len(points); i++ {
		if points[i].IsForecast && !points[i-1].IsForecast {
			return points[i-1], points[i], true
		}
	}
	return chemistry.CostPoint{}, chemistry.CostPoint{}, false
}

// Cooldown suppresses repeat alerts for the same chemistry within a window.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

// NewCooldown builds a cooldown gate. A non-positive window never suppresses.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window, last: make(map[string]time.Time)}
}

// Filter returns the moves allowed at now and marks them as sent.
func (c *Cooldown) Filter(moves []CostMove, now time.Time) []CostMove {
	c.mu.Lock()
	defer c.mu.Unlock()

	var allowed []CostMove
	for _, m := range moves {
		if last, ok := c.last[m.ChemistryID]; ok && c.window > 0 && now.Sub(last) < c.window {
			continue
		}
		c.last[m.ChemistryID] = now
		allowed = append(allowed, m)
	}
	return allowed
}
