// Package session performs individual actions against an SMTP server.
//
// An Executor is driven by exactly one goroutine at a time (the manager's
// worker), so implementations keep per-connection state without locking.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/smtpq/internal/model"
)

// Executor performs one action and returns the server response or
// diagnostic text. Failures are reported as *Error when the outcome can
// be classified.
type Executor interface {
	Execute(ctx context.Context, a model.Action) (string, error)
}

// Connector is implemented by executors that can open their session ahead
// of the first action.
type Connector interface {
	Connect(ctx context.Context) error
}

// Closer is implemented by executors holding a connection between actions.
type Closer interface {
	Close() error
}

// Error is a classified executor failure.
type Error struct {
	Status model.SMTPStatus
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(status model.SMTPStatus, op string, err error) *Error {
	return &Error{Status: status, Op: op, Err: err}
}

// StatusOf returns the status carried by err, or StatusFailed when err is
// not a *Error.
func StatusOf(err error) model.SMTPStatus {
	if err == nil {
		return model.StatusOk
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Status
	}
	return model.StatusFailed
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, a model.Action) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, a model.Action) (string, error) {
	return f(ctx, a)
}
