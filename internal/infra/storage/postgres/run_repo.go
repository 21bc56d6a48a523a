package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/drcheck/internal/core/domain"
	"github.com/vietddude/drcheck/internal/infra/storage"
)

// RunRepo implements storage.RunRepository using PostgreSQL.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new PostgreSQL run repository.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Create inserts a new run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	query := `
		INSERT INTO assessment_runs
			(id, environment, strategy, result, error_msg, primary_instance_id, refusal_instance_id, started_at, finished_at)
		VALUES
			(:id, :environment, :strategy, :result, :error_msg, :primary_instance_id, :refusal_instance_id, :started_at, :finished_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// Update saves the result fields of a run.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE assessment_runs
		SET result = :result,
			error_msg = :error_msg,
			primary_instance_id = :primary_instance_id,
			refusal_instance_id = :refusal_instance_id,
			finished_at = :finished_at
		WHERE id = :id
	`
	res, err := r.db.NamedExecContext(ctx, query, run)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrRunNotFound
	}
	return nil
}

// AddStep appends a step to a run.
func (r *RunRepo) AddStep(ctx context.Context, step domain.Step) error {
	query := `
		INSERT INTO assessment_steps (run_id, seq, name, started_at, finished_at, error_msg)
		VALUES (:run_id, :seq, :name, :started_at, :finished_at, :error_msg)
	`
	if _, err := r.db.NamedExecContext(ctx, query, step); err != nil {
		return fmt.Errorf("failed to add step: %w", err)
	}
	return nil
}

// Get retrieves a run with its steps.
func (r *RunRepo) Get(ctx context.Context, id string) (*domain.Run, error) {
	var run domain.Run
	err := r.db.GetContext(ctx, &run, `
		SELECT id, environment, strategy, result, error_msg, primary_instance_id, refusal_instance_id, started_at, finished_at
		FROM assessment_runs
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	err = r.db.SelectContext(ctx, &run.Steps, `
		SELECT run_id, seq, name, started_at, finished_at, error_msg
		FROM assessment_steps
		WHERE run_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get steps: %w", err)
	}
	return &run, nil
}

// List retrieves the most recent runs.
func (r *RunRepo) List(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []*domain.Run
	err := r.db.SelectContext(ctx, &runs, `
		SELECT id, environment, strategy, result, error_msg, primary_instance_id, refusal_instance_id, started_at, finished_at
		FROM assessment_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
