package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"survbatch/domain/core"
	"survbatch/domain/survival"
	"survbatch/ports"
)

// ResultRepositoryImpl implements ports.ResultRepository for PostgreSQL.
// Rows keep an explicit position column so a retrieved table preserves
// its original insertion order, which sorting ties depend on.
type ResultRepositoryImpl struct {
	db *sqlx.DB
}

// NewResultRepository creates a new PostgreSQL result repository
func NewResultRepository(db *sqlx.DB) ports.ResultRepository {
	return &ResultRepositoryImpl{db: db}
}

// Connect opens a database handle from a connection URL
func Connect(url string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

// Schema creates the backing tables if they do not exist
func (r *ResultRepositoryImpl) Schema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fit_results (
			run_id     TEXT NOT NULL,
			position   INTEGER NOT NULL,
			variable   TEXT NOT NULL,
			level      TEXT NOT NULL DEFAULT '',
			hr         DOUBLE PRECISION NOT NULL,
			ci_low     DOUBLE PRECISION NOT NULL,
			ci_high    DOUBLE PRECISION NOT NULL,
			p_value    DOUBLE PRECISION NOT NULL,
			n          INTEGER NOT NULL,
			n_events   INTEGER NOT NULL,
			is_control BOOLEAN NOT NULL,
			PRIMARY KEY (run_id, position)
		);
		CREATE TABLE IF NOT EXISTS fit_failures (
			run_id    TEXT NOT NULL,
			position  INTEGER NOT NULL,
			candidate TEXT NOT NULL,
			code      TEXT NOT NULL,
			detail    TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, position)
		);
	`)
	return err
}

type resultRow struct {
	RunID     string  `db:"run_id"`
	Position  int     `db:"position"`
	Variable  string  `db:"variable"`
	Level     string  `db:"level"`
	HR        float64 `db:"hr"`
	CILow     float64 `db:"ci_low"`
	CIHigh    float64 `db:"ci_high"`
	PValue    float64 `db:"p_value"`
	N         int     `db:"n"`
	NEvents   int     `db:"n_events"`
	IsControl bool    `db:"is_control"`
}

// SaveResults stores every row of a run's result table
func (r *ResultRepositoryImpl) SaveResults(ctx context.Context, runID core.RunID, table *survival.ResultTable) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, rec := range table.Records() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO fit_results (run_id, position, variable, level, hr, ci_low, ci_high, p_value, n, n_events, is_control)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, runID.String(), i, rec.Variable.String(), rec.Level, rec.HR, rec.CILow, rec.CIHigh, rec.PValue, rec.N, rec.NEvents, rec.IsControl)
		if err != nil {
			return fmt.Errorf("failed to insert row %d for run %s: %w", i, runID, err)
		}
	}
	return tx.Commit()
}

// GetResults loads a run's rows in their original table order
func (r *ResultRepositoryImpl) GetResults(ctx context.Context, runID core.RunID) (*survival.ResultTable, error) {
	var rows []resultRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT run_id, position, variable, level, hr, ci_low, ci_high, p_value, n, n_events, is_control
		FROM fit_results
		WHERE run_id = $1
		ORDER BY position
	`, runID.String())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		if exists, err := r.runExists(ctx, runID); err != nil {
			return nil, err
		} else if !exists {
			return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
		}
	}

	table := survival.NewResultTable()
	for _, row := range rows {
		table.Append(survival.CoefficientRecord{
			Variable:  core.VariableKey(row.Variable),
			Level:     row.Level,
			HR:        row.HR,
			CILow:     row.CILow,
			CIHigh:    row.CIHigh,
			PValue:    row.PValue,
			N:         row.N,
			NEvents:   row.NEvents,
			IsControl: row.IsControl,
		})
	}
	return table, nil
}

// SaveFailures stores a run's per-spec failure list
func (r *ResultRepositoryImpl) SaveFailures(ctx context.Context, runID core.RunID, failures []survival.FitFailure) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, f := range failures {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO fit_failures (run_id, position, candidate, code, detail)
			VALUES ($1, $2, $3, $4, $5)
		`, runID.String(), i, f.Candidate.String(), string(f.Code), f.Detail)
		if err != nil {
			return fmt.Errorf("failed to insert failure %d for run %s: %w", i, runID, err)
		}
	}
	return tx.Commit()
}

// GetFailures loads a run's failure list
func (r *ResultRepositoryImpl) GetFailures(ctx context.Context, runID core.RunID) ([]survival.FitFailure, error) {
	type failureRow struct {
		Candidate string `db:"candidate"`
		Code      string `db:"code"`
		Detail    string `db:"detail"`
	}
	var rows []failureRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT candidate, code, detail
		FROM fit_failures
		WHERE run_id = $1
		ORDER BY position
	`, runID.String())
	if err != nil {
		return nil, err
	}

	failures := make([]survival.FitFailure, 0, len(rows))
	for _, row := range rows {
		failures = append(failures, survival.FitFailure{
			Candidate: core.VariableKey(row.Candidate),
			Code:      survival.FailureCode(row.Code),
			Detail:    row.Detail,
		})
	}
	return failures, nil
}

// runExists checks whether a run left any trace (rows or failures)
func (r *ResultRepositoryImpl) runExists(ctx context.Context, runID core.RunID) (bool, error) {
	var one int
	err := r.db.GetContext(ctx, &one, `
		SELECT 1
		WHERE EXISTS (SELECT 1 FROM fit_results WHERE run_id = $1)
		   OR EXISTS (SELECT 1 FROM fit_failures WHERE run_id = $1)
	`, runID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
