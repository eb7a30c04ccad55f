package models

import (
	"encoding/json"
	"time"
)

// Ingestion run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// IngestionRun records one orchestrator invocation. Immutable once finalized.
type IngestionRun struct {
	ID            string     `db:"id"` // uuid
	StartedAt     time.Time  `db:"started_at"`
	CompletedAt   *time.Time `db:"completed_at"`
	Status        string     `db:"status"`
	MessagesSeen  int        `db:"messages_seen"`
	MessagesNew   int        `db:"messages_new"`
	Errors        string     `db:"errors"` // JSON array of error strings
}

// ErrorList decodes the aggregated per-message errors.
func (r *IngestionRun) ErrorList() []string {
	if r.Errors == "" {
		return nil
	}
	var errs []string
	if err := json.Unmarshal([]byte(r.Errors), &errs); err != nil {
		return nil
	}
	return errs
}

// RunSummary is what an orchestrator invocation reports back.
type RunSummary struct {
	Processed int
	New       int
	Errors    []string
}

// Counters is the denormalized unread-and-unarchived aggregate. Derivable at
// any time from a full scan of classification rows; never a source of truth.
type Counters struct {
	Critical       int `db:"critical"`
	High           int `db:"high"`
	Unread         int `db:"unread"`
	RequiresAction int `db:"requires_action"`
}
