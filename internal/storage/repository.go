package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertRunSQL = `INSERT INTO pipeline_runs (
        id,
        started_at,
        status
    ) VALUES ($1,$2,$3);`

	finishRunSQL = `UPDATE pipeline_runs
    SET
        finished_at     = $2,
        status          = $3,
        quote_count     = $4,
        rejected_count  = $5,
        material_count  = $6,
        chemistry_count = $7,
        warnings        = $8,
        error           = $9
    WHERE id = $1;`

	listRecentRunsSQL = `SELECT
        id,
        started_at,
        finished_at,
        status,
        quote_count,
        rejected_count,
        material_count,
        chemistry_count,
        warnings,
        error
    FROM pipeline_runs
    ORDER BY started_at DESC
    LIMIT $1;`

	deletePricePointsSQL    = `DELETE FROM price_points;`
	deleteForecastPointsSQL = `DELETE FROM forecast_points;`
	deleteAccuracySQL       = `DELETE FROM accuracy_metrics;`
	deleteChemistryCostsSQL = `DELETE FROM chemistry_costs;`

	insertPricePointSQL = `INSERT INTO price_points (
        run_id,
        material_id,
        month,
        price_usd_per_ton,
        is_interpolated
    ) VALUES ($1,$2,$3,$4,$5);`

	insertForecastPointSQL = `INSERT INTO forecast_points (
        run_id,
        material_id,
        month,
        price_usd_per_ton,
        model_used,
        clamped
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	insertAccuracySQL = `INSERT INTO accuracy_metrics (
        run_id,
        material_id,
        mape,
        window_months,
        folds,
        model_used,
        fallback_reason
    ) VALUES ($1,$2,$3,$4,$5,$6,$7);`

	insertChemistryCostSQL = `INSERT INTO chemistry_costs (
        run_id,
        chemistry_id,
        month,
        cost_usd_per_gwh,
        cost_usd_per_kwh,
        breakdown,
        missing,
        incomplete,
        is_forecast
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`

	listAccuracySQL = `SELECT
        material_id,
        mape::text,
        window_months,
        folds,
        model_used,
        fallback_reason
    FROM accuracy_metrics
    ORDER BY material_id;`

	listChemistryCostsSQL = `SELECT
        chemistry_id,
        month,
        cost_usd_per_gwh::text,
        cost_usd_per_kwh::text,
        breakdown,
        missing,
        incomplete,
        is_forecast
    FROM chemistry_costs
    WHERE chemistry_id = $1
      AND month >= $2
      AND month < $3
    ORDER BY month;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RunStore records pipeline runs.
type RunStore interface {
	InsertRun(ctx context.Context, run PipelineRun) error
	FinishRun(ctx context.Context, run PipelineRun) error
	ListRecentRuns(ctx context.Context, limit int) ([]PipelineRun, error)
}

// SnapshotStore replaces and reads the derived tables.
type SnapshotStore interface {
	ReplaceSnapshot(ctx context.Context, snap Snapshot) error
	ListAccuracy(ctx context.Context) ([]AccuracyRow, error)
	ListChemistryCosts(ctx context.Context, chemistryID string, from, to time.Time) ([]ChemistryCostRow, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to runs and derived tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate executes every *.sql file in dir in lexical order. Statements must be idempotent.
func (s *Store) Migrate(ctx context.Context, dir string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	files, err := migrationFiles(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		body, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// InsertRun records the start of a run.
func (s *Store) InsertRun(ctx context.Context, run PipelineRun) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertRunSQL, run.ID, run.StartedAt, run.Status); execErr != nil {
		return fmt.Errorf("insert run: %w", execErr)
	}
	return nil
}

// FinishRun stores the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, run PipelineRun) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg any
	if run.Error != nil {
		errMsg = *run.Error
	}
	warnings := run.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	cmdTag, execErr := pool.Exec(ctx, finishRunSQL,
		run.ID,
		run.FinishedAt,
		run.Status,
		run.QuoteCount,
		run.RejectedCount,
		run.MaterialCount,
		run.ChemistryCount,
		warnings,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("finish run: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRecentRuns lists the most recent runs ordered by descending start time.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]PipelineRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]PipelineRun, 0, limit)
	for rows.Next() {
		var (
			run    PipelineRun
			errMsg *string
		)
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.QuoteCount,
			&run.RejectedCount,
			&run.MaterialCount,
			&run.ChemistryCount,
			&run.Warnings,
			&errMsg,
		); err != nil {
			return nil, err
		}
		run.Error = errMsg
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// ReplaceSnapshot swaps every derived table for the snapshot's rows in one
// transaction, so readers never see a half-written run.
func (s *Store) ReplaceSnapshot(ctx context.Context, snap Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := buildSnapshotBatch(snap)
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, execErr := results.Exec(); execErr != nil {
			_ = results.Close()
			return fmt.Errorf("write snapshot statement %d: %w", i, execErr)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close snapshot batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func buildSnapshotBatch(snap Snapshot) *pgx.Batch {
	runID := snap.Run.ID
	batch := &pgx.Batch{}
	batch.Queue(deletePricePointsSQL)
	batch.Queue(deleteForecastPointsSQL)
	batch.Queue(deleteAccuracySQL)
	batch.Queue(deleteChemistryCostsSQL)

	for _, p := range snap.Prices {
		if p.IsForecast {
			batch.Queue(insertForecastPointSQL, runID, p.MaterialID, p.Month, p.PriceUSDPerTon.String(), p.ModelUsed, p.Clamped)
			continue
		}
		batch.Queue(insertPricePointSQL, runID, p.MaterialID, p.Month, p.PriceUSDPerTon.String(), p.IsInterpolated)
	}

	for _, a := range snap.Accuracy {
		var mape any
		if a.MAPE != nil {
			mape = a.MAPE.String()
		}
		batch.Queue(insertAccuracySQL, runID, a.MaterialID, mape, a.WindowMonths, a.Folds, a.ModelUsed, a.FallbackReason)
	}

	for _, c := range snap.Chemistry {
		missing := c.Missing
		if missing == nil {
			missing = []string{}
		}
		batch.Queue(insertChemistryCostSQL,
			runID,
			c.ChemistryID,
			c.Month,
			c.CostUSDPerGWh.String(),
			c.CostUSDPerKWh.String(),
			encodeBreakdown(c.Breakdown),
			missing,
			c.Incomplete,
			c.IsForecast,
		)
	}
	return batch
}

// ListAccuracy returns the accuracy table of the latest snapshot.
func (s *Store) ListAccuracy(ctx context.Context) ([]AccuracyRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAccuracySQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list accuracy: %w", queryErr)
	}
	defer rows.Close()

	out := make([]AccuracyRow, 0)
	for rows.Next() {
		var (
			rec     AccuracyRow
			mapeStr *string
		)
		if err := rows.Scan(&rec.MaterialID, &mapeStr, &rec.WindowMonths, &rec.Folds, &rec.ModelUsed, &rec.FallbackReason); err != nil {
			return nil, err
		}
		if mapeStr != nil {
			mape, convErr := decimal.NewFromString(*mapeStr)
			if convErr != nil {
				return nil, fmt.Errorf("parse mape: %w", convErr)
			}
			rec.MAPE = &mape
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ListChemistryCosts lists a chemistry's monthly costs within [from, to).
func (s *Store) ListChemistryCosts(ctx context.Context, chemistryID string, from, to time.Time) ([]ChemistryCostRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listChemistryCostsSQL, chemistryID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list chemistry costs: %w", queryErr)
	}
	defer rows.Close()

	out := make([]ChemistryCostRow, 0)
	for rows.Next() {
		var (
			rec          ChemistryCostRow
			gwhStr       string
			kwhStr       string
			breakdownRaw []byte
		)
		if err := rows.Scan(
			&rec.ChemistryID,
			&rec.Month,
			&gwhStr,
			&kwhStr,
			&breakdownRaw,
			&rec.Missing,
			&rec.Incomplete,
			&rec.IsForecast,
		); err != nil {
			return nil, err
		}

		var convErr error
		if rec.CostUSDPerGWh, convErr = decimal.NewFromString(gwhStr); convErr != nil {
			return nil, fmt.Errorf("parse cost per gwh: %w", convErr)
		}
		if rec.CostUSDPerKWh, convErr = decimal.NewFromString(kwhStr); convErr != nil {
			return nil, fmt.Errorf("parse cost per kwh: %w", convErr)
		}
		if rec.Breakdown, convErr = decodeBreakdown(breakdownRaw); convErr != nil {
			return nil, convErr
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// Breakdowns are stored as JSONB objects of decimal strings.
func encodeBreakdown(b map[string]decimal.Decimal) []byte {
	out := make(map[string]string, len(b))
	for m, v := range b {
		out[m] = v.String()
	}
	raw, _ := json.Marshal(out)
	return raw
}

func decodeBreakdown(raw []byte) (map[string]decimal.Decimal, error) {
	if len(raw) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	var encoded map[string]string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("decode breakdown: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(encoded))
	for m, v := range encoded {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse breakdown %s: %w", m, err)
		}
		out[m] = d
	}
	return out, nil
}

// NewRun starts a run record with a fresh id.
func NewRun(now time.Time) PipelineRun {
	return PipelineRun{ID: uuid.New(), StartedAt: now.UTC(), Status: RunStatusRunning}
}

var (
	_ RunStore       = (*Store)(nil)
	_ SnapshotStore  = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
