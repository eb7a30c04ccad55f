package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maubry/mailtriage/pkg/models"
)

// RunRepo records ingestion runs.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a run repository.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Open creates a new run record in the running state.
func (r *RunRepo) Open(ctx context.Context) (*models.IngestionRun, error) {
	run := &models.IngestionRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ingestion_runs (id, started_at, status) VALUES (?, ?, ?)`,
		run.ID, run.StartedAt, run.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open ingestion run: %w", err)
	}
	return run, nil
}

// Finalize completes a run record. The record is immutable afterwards.
func (r *RunRepo) Finalize(ctx context.Context, run *models.IngestionRun, status string, seen, newCount int, errList []string) error {
	now := time.Now()
	var errJSON string
	if len(errList) > 0 {
		data, err := json.Marshal(errList)
		if err != nil {
			return fmt.Errorf("failed to encode run errors: %w", err)
		}
		errJSON = string(data)
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE ingestion_runs
		SET completed_at = ?, status = ?, messages_seen = ?, messages_new = ?, errors = ?
		WHERE id = ?
	`, now, status, seen, newCount, errJSON, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finalize ingestion run: %w", err)
	}

	run.CompletedAt = &now
	run.Status = status
	run.MessagesSeen = seen
	run.MessagesNew = newCount
	run.Errors = errJSON
	return nil
}

// Get returns a run by id.
func (r *RunRepo) Get(ctx context.Context, id string) (*models.IngestionRun, error) {
	var run models.IngestionRun
	err := r.db.GetContext(ctx, &run, `SELECT * FROM ingestion_runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion run: %w", err)
	}
	return &run, nil
}
