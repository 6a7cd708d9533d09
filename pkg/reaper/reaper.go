// Package reaper finalizes suspended executions whose events will never
// arrive. Abandonment is this external sweep's decision, never the
// interpreter's own.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/callwise/callflow/pkg/interpreter"
	"github.com/callwise/callflow/pkg/persistence"
)

// Reaper periodically sweeps the recorder for executions that have been
// suspended longer than the threshold and abandons them.
type Reaper struct {
	recorder    persistence.ExecutionRepository
	interpreter *interpreter.Interpreter
	threshold   time.Duration
	schedule    string
	logger      *slog.Logger
	cron        *cron.Cron
}

func New(recorder persistence.ExecutionRepository, i *interpreter.Interpreter, threshold time.Duration, schedule string, logger *slog.Logger) *Reaper {
	if schedule == "" {
		schedule = "@every 1m"
	}

	return &Reaper{
		recorder:    recorder,
		interpreter: i,
		threshold:   threshold,
		schedule:    schedule,
		logger:      logger.With("module", "reaper"),
	}
}

// Start schedules the sweep and returns immediately.
func (r *Reaper) Start(ctx context.Context) error {
	r.cron = cron.New()

	_, err := r.cron.AddFunc(r.schedule, func() {
		if err := r.Sweep(ctx); err != nil {
			r.logger.ErrorContext(ctx, "Sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reaper: %w", err)
	}

	r.cron.Start()
	r.logger.InfoContext(ctx, "Reaper started",
		"schedule", r.schedule, "threshold", r.threshold.String())

	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Sweep abandons every execution suspended before the threshold cutoff. One
// failing execution does not stop the sweep.
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.threshold)

	stale, err := r.recorder.ListSuspendedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale executions: %w", err)
	}

	if len(stale) == 0 {
		return nil
	}

	r.logger.InfoContext(ctx, "Sweeping stale executions", "count", len(stale))

	reason := fmt.Sprintf("suspended longer than %s", r.threshold)

	for _, execution := range stale {
		if _, err := r.interpreter.Abandon(ctx, execution.ID, reason); err != nil {
			// Racing resumes are expected; the execution moved on.
			r.logger.WarnContext(ctx, "Failed to abandon execution",
				"execution_id", execution.ID, "error", err)
		}
	}

	return nil
}
