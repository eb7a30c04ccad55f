package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const errorBackoff = 5 * time.Minute

// Scheduler triggers ingestion runs on a fixed interval. A run fires
// immediately on start, then every interval; after a failed run the next
// attempt is brought forward to the backoff delay.
type Scheduler struct {
	orchestrator *Orchestrator
	interval     time.Duration
	window       time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewScheduler creates a scheduler. The window is how far back each run
// looks; it should exceed the interval so no gap opens between runs.
func NewScheduler(o *Orchestrator, interval, window time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		orchestrator: o,
		interval:     interval,
		window:       window,
		logger:       logger.With("component", "scheduler"),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start launches the polling loop in a goroutine. Calling Start twice is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("scheduler started", "interval", s.interval, "window", s.window)
	go s.loop(ctx)
}

// Stop signals the loop to exit and waits for the in-flight run, if any,
// to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	delay := s.runOnce(ctx)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: context done")
			return
		case <-s.stopCh:
			return
		case <-timer.C:
			timer.Reset(s.runOnce(ctx))
		}
	}
}

// runOnce executes one run and returns the delay before the next one.
func (s *Scheduler) runOnce(ctx context.Context) time.Duration {
	since := time.Now().Add(-s.window)
	summary, err := s.orchestrator.Run(ctx, since)
	switch {
	case errors.Is(err, ErrRunActive):
		// Another trigger got there first; the scheduled slot is simply skipped.
		s.logger.Debug("scheduled run skipped, another run active")
	case err != nil:
		s.logger.Error("scheduled run failed", "error", err, "retry_in", errorBackoff)
		return errorBackoff
	default:
		s.logger.Debug("scheduled run finished", "processed", summary.Processed, "new", summary.New)
	}
	return s.interval
}
