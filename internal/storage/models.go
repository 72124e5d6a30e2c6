package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Run statuses.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// PipelineRun is one recompute of every derived table.
type PipelineRun struct {
	ID             uuid.UUID
	StartedAt      time.Time
	FinishedAt     *time.Time
	Status         string
	QuoteCount     int
	RejectedCount  int
	MaterialCount  int
	ChemistryCount int
	Warnings       []string
	Error          *string
}

// PriceRow is a month of a material timeline. History rows go to
// price_points, forecast rows to forecast_points.
type PriceRow struct {
	MaterialID     string
	Month          time.Time
	PriceUSDPerTon decimal.Decimal
	IsInterpolated bool
	IsForecast     bool
	ModelUsed      string
	Clamped        bool
}

// AccuracyRow is the walk-forward score of a material. MAPE is nil when
// validation could not run.
type AccuracyRow struct {
	MaterialID     string
	MAPE           *decimal.Decimal
	WindowMonths   int
	Folds          int
	ModelUsed      string
	FallbackReason string
}

// ChemistryCostRow is a chemistry's monthly material cost.
type ChemistryCostRow struct {
	ChemistryID   string
	Month         time.Time
	CostUSDPerGWh decimal.Decimal
	CostUSDPerKWh decimal.Decimal
	Breakdown     map[string]decimal.Decimal
	Missing       []string
	Incomplete    bool
	IsForecast    bool
}

// Snapshot is the full output of one run.
type Snapshot struct {
	Run       PipelineRun
	Prices    []PriceRow
	Accuracy  []AccuracyRow
	Chemistry []ChemistryCostRow
}
