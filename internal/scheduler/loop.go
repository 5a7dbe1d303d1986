// Package scheduler runs a job once or on a fixed interval until its context is
// canceled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrInterrupted is returned by a forever loop whose context was canceled.
var ErrInterrupted = errors.New("interrupted")

// Outcome classifies the result of one tick.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeTransient Outcome = "transient"
	OutcomePermanent Outcome = "permanent"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Loop drives a Job.
type Loop struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Once       bool
	Job        Job
	// IsTransient classifies tick errors. Nil treats every error as permanent.
	IsTransient func(error) bool
	// OnTick, when set, observes every finished tick.
	OnTick func(ctx context.Context, outcome Outcome, err error)
	Logger *slog.Logger
}

// Run executes the loop. In Once mode it runs the job a single time and returns
// its error. Otherwise it runs until ctx is canceled and returns ErrInterrupted;
// tick errors are logged and the next tick proceeds.
func (l *Loop) Run(ctx context.Context) error {
	if l.Job == nil {
		return fmt.Errorf("scheduler %s: job is required", l.Name)
	}
	logger := l.logger()

	if l.Once {
		_, err := l.tick(ctx)
		return err
	}
	if l.Interval <= 0 {
		return fmt.Errorf("scheduler %s: interval must be positive", l.Name)
	}

	logger.Info("scheduler started", "interval", l.Interval, "run_on_start", l.RunOnStart)
	if l.RunOnStart {
		l.tick(ctx)
	}

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopping", "reason", context.Cause(ctx))
			return fmt.Errorf("%s: %w", l.Name, ErrInterrupted)
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) (Outcome, error) {
	logger := l.logger()
	if err := ctx.Err(); err != nil {
		return OutcomePermanent, err
	}

	started := time.Now()
	err := l.Job(ctx)
	outcome := l.classify(err)
	switch outcome {
	case OutcomeOK:
		logger.Debug("tick finished", "duration", time.Since(started))
	case OutcomeTransient:
		logger.Warn("tick failed, will retry next tick", "duration", time.Since(started), "error", err)
	default:
		logger.Error("tick failed", "duration", time.Since(started), "error", err)
	}
	if l.OnTick != nil {
		l.OnTick(ctx, outcome, err)
	}
	return outcome, err
}

func (l *Loop) classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case l.IsTransient != nil && l.IsTransient(err):
		return OutcomeTransient
	default:
		return OutcomePermanent
	}
}

func (l *Loop) logger() *slog.Logger {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("job", l.Name)
}
