// Package scheduler fires the payout engine on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcclellann/fredInvest/pkg/payout"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs once a day at midnight UTC.
const DefaultSchedule = "0 0 * * *"

// Runner executes one payout pass.
type Runner interface {
	Run(ctx context.Context) (payout.Summary, error)
}

// Trigger adapts a Runner to cron.Job. Each firing is bounded by timeout so
// a run cannot outlive the lock that guards it.
type Trigger struct {
	base    context.Context
	runner  Runner
	timeout time.Duration
	logger  *slog.Logger
}

// NewTrigger derives every firing from base, so cancelling base stops runs.
func NewTrigger(base context.Context, runner Runner, timeout time.Duration, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{base: base, runner: runner, timeout: timeout, logger: logger}
}

// Run implements cron.Job.
func (t *Trigger) Run() {
	_, _ = t.Fire(t.base)
}

// Fire runs the engine once and logs the result.
func (t *Trigger) Fire(ctx context.Context) (payout.Summary, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	summary, err := t.runner.Run(ctx)
	if err != nil {
		t.logger.ErrorContext(ctx, "scheduled payout run failed",
			"module", "scheduler", "operation", "fire", "outcome", "failure", "error", err)
		return summary, err
	}
	t.logger.InfoContext(ctx, "scheduled payout run finished",
		"module", "scheduler", "operation", "fire", "outcome", "success",
		"lock_acquired", summary.LockAcquired,
		"daily_count", summary.DailyCount,
		"matured_count", summary.MaturedCount)
	return summary, nil
}

// New returns a cron evaluated in UTC that recovers panicking jobs and skips
// a firing while the previous one is still running.
func New(logger *slog.Logger) *cron.Cron {
	l := Logger(logger)
	return cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
}

// Register adds job to c under a standard five-field spec.
func Register(c *cron.Cron, spec string, job cron.Job) (cron.EntryID, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return 0, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	id, err := c.AddJob(spec, job)
	if err != nil {
		return 0, fmt.Errorf("register payout job: %w", err)
	}
	return id, nil
}

type slogAdapter struct {
	logger *slog.Logger
}

// Logger exposes logger as a cron.Logger.
func Logger(logger *slog.Logger) cron.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return slogAdapter{logger: logger.With("module", "cron")}
}

func (a slogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, append(keysAndValues, "error", err)...)
}
