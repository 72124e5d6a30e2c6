package api

import (
	"time"

	"battery-cost-forecast/internal/chemistry"
)

type runResponse struct {
	GeneratedAt time.Time         `json:"generated_at"`
	QuoteCount  int               `json:"quote_count"`
	Rejected    int               `json:"rejected"`
	Sources     map[string]string `json:"sources"`
	Fallbacks   int               `json:"fallbacks"`
	Warnings    []string          `json:"warnings"`
}

type accuracyResponse struct {
	MaterialID     string   `json:"material_id"`
	Source         string   `json:"source"`
	ModelUsed      string   `json:"model_used"`
	MAPE           *float64 `json:"mape_pct"`
	Folds          int      `json:"folds"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
}

type costResponse struct {
	Month         string             `json:"month"`
	CostUSDPerGWh float64            `json:"cost_usd_per_gwh"`
	CostUSDPerKWh float64            `json:"cost_usd_per_kwh"`
	Breakdown     map[string]float64 `json:"breakdown"`
	Missing       []string           `json:"missing"`
	Incomplete    bool               `json:"incomplete"`
	IsForecast    bool               `json:"is_forecast"`
}

func toCostResponse(p chemistry.CostPoint) costResponse {
	return costResponse{
		Month:         p.Month.Format("2006-01"),
		CostUSDPerGWh: p.CostUSDPerGWh,
		CostUSDPerKWh: p.CostUSDPerKWh,
		Breakdown:     p.Breakdown,
		Missing:       nonNil(p.Missing),
		Incomplete:    p.Incomplete,
		IsForecast:    p.IsForecast,
	}
}

type annualResponse struct {
	Year          int     `json:"year"`
	CostUSDPerGWh float64 `json:"cost_usd_per_gwh"`
	CostUSDPerKWh float64 `json:"cost_usd_per_kwh"`
	Months        int     `json:"months"`
	Partial       bool    `json:"partial"`
	Incomplete    bool    `json:"incomplete"`
	HasForecast   bool    `json:"has_forecast"`
}

type chemistrySummary struct {
	ChemistryID      string        `json:"chemistry_id"`
	NextMonth        *costResponse `json:"next_month,omitempty"`
	IncompleteMonths int           `json:"incomplete_months"`
}

type impactResponse struct {
	MaterialID         string  `json:"material_id"`
	BasePrice          float64 `json:"base_price_usd_per_ton"`
	DeltaUp            float64 `json:"delta_up_usd_per_gwh"`
	DeltaDown          float64 `json:"delta_down_usd_per_gwh"`
	CostDeltaUSDPerGWh float64 `json:"cost_delta_usd_per_gwh"`
}

type sensitivityResponse struct {
	ChemistryID       string           `json:"chemistry_id"`
	Month             string           `json:"month"`
	Magnitude         float64          `json:"magnitude"`
	BaseCostUSDPerGWh float64          `json:"base_cost_usd_per_gwh"`
	Impacts           []impactResponse `json:"impacts"`
	Skipped           []string         `json:"skipped"`
}
