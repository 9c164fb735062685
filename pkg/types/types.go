// Package types defines the core domain model shared by the sheetflow executor,
// batch runner and planner.
package types

import (
	"errors"
	"fmt"
)

// Response is whatever a Request's Execute returns. The core never inspects it.
type Response any

// Request is an opaque unit of work supplied by the API-binding layer.
//
// Execute blocks the calling worker until the remote call returns. It cannot be
// interrupted; callers that need a response-time bound must build it into the
// request itself.
type Request interface {
	Execute() (Response, error)
}

// RequestFunc adapts an ordinary function to the Request interface.
type RequestFunc func() (Response, error)

// Execute calls f.
func (f RequestFunc) Execute() (Response, error) { return f() }

// Reason classifies a failed Outcome.
type Reason string

const (
	ReasonNone     Reason = ""               // Success
	ReasonExecuted Reason = "executed-error" // Request.Execute returned an error
	ReasonShutdown Reason = "shutdown"       // rejected at admission or force-failed during drain
)

// ErrShutdown is the cause carried by every Outcome with ReasonShutdown.
var ErrShutdown = errors.New("executor: shut down")

// ExecutionError wraps the error a Request raised while running.
type ExecutionError struct {
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("request execution failed: %v", e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Outcome is the single result delivered for a submitted Request.
// A zero Reason means success.
type Outcome struct {
	Response Response // set on success only
	Reason   Reason   // failure classification
	Err      error    // *ExecutionError or ErrShutdown on failure
}

// Success builds a successful Outcome.
func Success(resp Response) Outcome {
	return Outcome{Response: resp}
}

// Failed wraps an execution error into a failed Outcome.
func Failed(cause error) Outcome {
	return Outcome{Reason: ReasonExecuted, Err: &ExecutionError{Cause: cause}}
}

// Shutdown is the Outcome for work the executor could not admit or finish.
func Shutdown() Outcome {
	return Outcome{Reason: ReasonShutdown, Err: ErrShutdown}
}

// OK reports whether the Outcome is a Success.
func (o Outcome) OK() bool {
	return o.Reason == ReasonNone
}

// Label is the metrics/log label for the Outcome.
func (o Outcome) Label() string {
	if o.OK() {
		return "success"
	}
	return string(o.Reason)
}
