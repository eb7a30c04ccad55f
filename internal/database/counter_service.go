package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/maubry/mailtriage/pkg/models"
)

// Counter names in the urgent_counts table.
const (
	counterCritical       = "critical"
	counterHigh           = "high"
	counterUnread         = "unread"
	counterRequiresAction = "requires_action"
)

var counterNames = []string{counterCritical, counterHigh, counterUnread, counterRequiresAction}

// CounterDelta describes an incremental counter change triggered by exactly
// one state transition.
type CounterDelta struct {
	Critical       int
	High           int
	Unread         int
	RequiresAction int
}

// IsZero reports whether the delta changes nothing.
func (d CounterDelta) IsZero() bool {
	return d == CounterDelta{}
}

// Negate returns the inverse delta.
func (d CounterDelta) Negate() CounterDelta {
	return CounterDelta{
		Critical:       -d.Critical,
		High:           -d.High,
		Unread:         -d.Unread,
		RequiresAction: -d.RequiresAction,
	}
}

// CounterService is the sole writer of the urgent_counts table. Apply runs
// inside the transaction that performs the triggering row mutation;
// Recompute replaces the counters from a full scan and corrects any drift.
type CounterService struct {
	db *DB
}

// NewCounterService creates a counter service bound to the store.
func NewCounterService(db *DB) *CounterService {
	return &CounterService{db: db}
}

// Apply adjusts counters inside tx. Counts are clamped at zero so a missed
// increment can never drive a counter negative.
func (s *CounterService) Apply(ctx context.Context, tx *sqlx.Tx, delta CounterDelta, updatedBy string) error {
	changes := map[string]int{
		counterCritical:       delta.Critical,
		counterHigh:           delta.High,
		counterUnread:         delta.Unread,
		counterRequiresAction: delta.RequiresAction,
	}
	for _, name := range counterNames {
		n := changes[name]
		if n == 0 {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE urgent_counts
			SET current_count = MAX(0, current_count + ?),
			    last_updated = CURRENT_TIMESTAMP,
			    updated_by = ?
			WHERE count_type = ?
		`, n, updatedBy, name)
		if err != nil {
			return fmt.Errorf("failed to apply counter delta for %s: %w", name, err)
		}
	}
	return nil
}

// Current returns the incrementally-maintained counter values.
func (s *CounterService) Current(ctx context.Context) (models.Counters, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT count_type, current_count FROM urgent_counts`)
	if err != nil {
		return models.Counters{}, fmt.Errorf("failed to read counters: %w", err)
	}
	defer rows.Close()

	var counters models.Counters
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return models.Counters{}, fmt.Errorf("failed to scan counter: %w", err)
		}
		switch name {
		case counterCritical:
			counters.Critical = count
		case counterHigh:
			counters.High = count
		case counterUnread:
			counters.Unread = count
		case counterRequiresAction:
			counters.RequiresAction = count
		}
	}
	return counters, rows.Err()
}

// Recompute derives the authoritative counters from the classification rows
// and replaces the stored values. The scan is read-only and the replace is a
// single transaction, so it is safe to run alongside normal traffic.
func (s *CounterService) Recompute(ctx context.Context) (models.Counters, error) {
	var counters models.Counters
	err := s.db.GetContext(ctx, &counters, `
		SELECT
			COUNT(CASE WHEN priority = 'Critical' THEN 1 END) AS critical,
			COUNT(CASE WHEN priority = 'High' THEN 1 END) AS high,
			COUNT(*) AS unread,
			COUNT(CASE WHEN requires_action THEN 1 END) AS requires_action
		FROM classifications
		WHERE is_read = false AND is_archived = false
	`)
	if err != nil {
		return models.Counters{}, fmt.Errorf("failed to recompute counters: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Counters{}, fmt.Errorf("failed to begin recompute transaction: %w", err)
	}
	defer tx.Rollback()

	values := map[string]int{
		counterCritical:       counters.Critical,
		counterHigh:           counters.High,
		counterUnread:         counters.Unread,
		counterRequiresAction: counters.RequiresAction,
	}
	for _, name := range counterNames {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO urgent_counts (count_type, current_count, last_updated, updated_by)
			VALUES (?, ?, CURRENT_TIMESTAMP, 'recomputation')
			ON CONFLICT(count_type) DO UPDATE SET
				current_count = excluded.current_count,
				last_updated = CURRENT_TIMESTAMP,
				updated_by = 'recomputation'
		`, name, values[name])
		if err != nil {
			return models.Counters{}, fmt.Errorf("failed to replace counter %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Counters{}, fmt.Errorf("failed to commit recompute: %w", err)
	}
	return counters, nil
}

// deltaFor computes the counter contribution of a classification row, given
// its flags. Only unread-and-unarchived rows count.
func deltaFor(priority string, isRead, isArchived, requiresAction bool) CounterDelta {
	if isRead || isArchived {
		return CounterDelta{}
	}
	d := CounterDelta{Unread: 1}
	switch priority {
	case models.PriorityCritical:
		d.Critical = 1
	case models.PriorityHigh:
		d.High = 1
	}
	if requiresAction {
		d.RequiresAction = 1
	}
	return d
}
