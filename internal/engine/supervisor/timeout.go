// Package supervisor runs background sweeps the Engine needs that don't
// belong to any single execution's request/response cycle.
//
// Grounded on the teacher's cmd/workflow-runner/supervisor/timeout.go
// (ticker loop, hanging-run detection by polling a status column), but
// retargeted from "detect an execution stuck mid-node with no activity"
// onto SPEC_FULL.md §4.2's HUMAN_LOOP pause timeout: a PAUSED execution
// whose pending_pause.timeout_at has elapsed is handed to the
// coordinator, which either routes it to a declared timeout branch or
// fails it.
package supervisor

import (
	"context"
	"time"

	"github.com/lyzr/workflow-platform/internal/models"
)

// Logger is the subset of common/logger.Logger the sweeper needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// PendingPauseLister is the catalog surface the sweeper polls.
type PendingPauseLister interface {
	ListPendingPauses(ctx context.Context, before time.Time) ([]*models.Execution, error)
}

// TimeoutResolver is implemented by internal/engine/coordinator.Coordinator.
type TimeoutResolver interface {
	SweepTimeout(ctx context.Context, executionID string) error
}

// TimeoutSweeper periodically resolves HUMAN_LOOP pauses whose deadline
// has passed.
type TimeoutSweeper struct {
	pauses        PendingPauseLister
	resolver      TimeoutResolver
	logger        Logger
	checkInterval time.Duration
}

// NewTimeoutSweeper constructs a TimeoutSweeper with the default 30s
// check interval (matching the teacher's TimeoutDetector default).
func NewTimeoutSweeper(pauses PendingPauseLister, resolver TimeoutResolver, logger Logger) *TimeoutSweeper {
	return &TimeoutSweeper{
		pauses:        pauses,
		resolver:      resolver,
		logger:        logger,
		checkInterval: 30 * time.Second,
	}
}

// WithCheckInterval overrides the polling interval.
func (s *TimeoutSweeper) WithCheckInterval(interval time.Duration) *TimeoutSweeper {
	s.checkInterval = interval
	return s
}

// Start runs the sweep loop until ctx is canceled.
func (s *TimeoutSweeper) Start(ctx context.Context) error {
	s.logger.Info("timeout sweeper starting", "check_interval", s.checkInterval)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("timeout sweeper shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error("timeout sweep failed", "error", err)
			}
		}
	}
}

func (s *TimeoutSweeper) sweep(ctx context.Context) error {
	pending, err := s.pauses.ListPendingPauses(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	s.logger.Info("resolving timed-out pauses", "count", len(pending))
	for _, e := range pending {
		if err := s.resolver.SweepTimeout(ctx, e.ExecutionID); err != nil {
			s.logger.Error("failed to resolve pause timeout", "execution_id", e.ExecutionID, "error", err)
		}
	}
	return nil
}
