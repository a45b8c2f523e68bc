package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spot_trader/internal/core"
)

// Runner drives an Engine with strictly sequential ticks.
type Runner struct {
	engine     Engine
	interval   time.Duration
	errorDelay time.Duration
	logger     core.ILogger

	// wait is swapped in tests
	wait func(ctx context.Context, d time.Duration) error
}

func NewRunner(e Engine, interval, errorDelay time.Duration, logger core.ILogger) *Runner {
	return &Runner{
		engine:     e,
		interval:   interval,
		errorDelay: errorDelay,
		logger:     logger.WithField("component", "runner"),
		wait:       sleep,
	}
}

// Run starts the engine and ticks until ctx is cancelled or a tick is fatal.
// Cancellation is a clean shutdown and returns nil.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.engine.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	defer func() {
		if err := r.engine.Stop(); err != nil {
			r.logger.Warn("Engine stop failed", "error", err)
		}
	}()

	r.logger.Info("Polling loop started", "interval", r.interval.String(), "error_delay", r.errorDelay.String())

	for {
		res := r.tick(ctx)

		var delay time.Duration
		switch res.Status {
		case StatusOK:
			delay = r.interval
		case StatusRetry:
			r.logger.Warn("Tick failed, retrying after delay",
				"action", string(res.Action),
				"error", res.Err,
				"delay", r.errorDelay.String())
			delay = r.errorDelay
		case StatusFatal:
			if ctx.Err() != nil && errors.Is(res.Err, ctx.Err()) {
				r.logger.Info("Polling loop stopped")
				return nil
			}
			r.logger.Error("Polling loop aborted", "error", res.Err)
			return res.Err
		}

		if err := r.wait(ctx, delay); err != nil {
			r.logger.Info("Polling loop stopped")
			return nil
		}
	}
}

// tick converts a panic inside the engine into a retryable result.
func (r *Runner) tick(ctx context.Context) (res TickResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Tick panicked", "panic", fmt.Sprintf("%v", p))
			res = Retry(ActionAborted, fmt.Errorf("tick panic: %v", p))
		}
	}()
	return r.engine.Tick(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
