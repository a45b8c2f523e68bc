package engine

import (
	"context"
	"fmt"
)

// Engine is a polling trading engine driven one tick at a time.
type Engine interface {
	// Start runs startup recovery; an error aborts the process.
	Start(ctx context.Context) error
	Tick(ctx context.Context) TickResult
	Stop() error
}

// Status tells the run loop how to continue after a tick
type Status int

const (
	// StatusOK waits the normal tick interval.
	StatusOK Status = iota
	// StatusRetry waits the error delay.
	StatusRetry
	// StatusFatal stops the loop.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRetry:
		return "retry"
	case StatusFatal:
		return "fatal"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Action is what a tick did
type Action string

const (
	ActionIdle        Action = "idle"
	ActionHold        Action = "hold"
	ActionOpened      Action = "opened"
	ActionClosed      Action = "closed"
	ActionRejected    Action = "rejected"
	ActionOrderFailed Action = "order_failed"
	ActionAborted     Action = "aborted"
)

// TickResult is the outcome of one tick. Err is informational unless Status is StatusFatal.
type TickResult struct {
	Action Action
	Status Status
	Err    error
}

func OK(action Action) TickResult {
	return TickResult{Action: action, Status: StatusOK}
}

func Retry(action Action, err error) TickResult {
	return TickResult{Action: action, Status: StatusRetry, Err: err}
}

func Fatal(err error) TickResult {
	return TickResult{Action: ActionAborted, Status: StatusFatal, Err: err}
}
