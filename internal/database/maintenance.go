package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	IntegrityOK bool
	Duration    time.Duration
}

// Maintain refreshes planner statistics, rebuilds indexes, verifies
// integrity and reclaims free pages. Setup-time utility, not part of the
// pipeline's runtime contract.
func (db *DB) Maintain(ctx context.Context, logger *slog.Logger) (MaintenanceReport, error) {
	start := time.Now()
	report := MaintenanceReport{}

	if _, err := db.ExecContext(ctx, `ANALYZE`); err != nil {
		return report, fmt.Errorf("analyze failed: %w", err)
	}
	logger.Info("analyze completed")

	if _, err := db.ExecContext(ctx, `REINDEX`); err != nil {
		return report, fmt.Errorf("reindex failed: %w", err)
	}
	logger.Info("reindex completed")

	var integrity string
	if err := db.GetContext(ctx, &integrity, `PRAGMA integrity_check`); err != nil {
		return report, fmt.Errorf("integrity check failed: %w", err)
	}
	report.IntegrityOK = integrity == "ok"
	if !report.IntegrityOK {
		logger.Warn("integrity check reported problems", "result", integrity)
	}

	// VACUUM cannot run inside a transaction; ExecContext issues it directly.
	if _, err := db.ExecContext(ctx, `VACUUM`); err != nil {
		return report, fmt.Errorf("vacuum failed: %w", err)
	}
	logger.Info("vacuum completed")

	report.Duration = time.Since(start)
	return report, nil
}
