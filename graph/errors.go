package graph

import (
	"errors"
	"fmt"
)

// Resume-protocol and storage errors.
var (
	// ErrSessionIDRequired is returned when a call omits the session key.
	ErrSessionIDRequired = errors.New("session_id is required")
	// ErrNoCheckpoint is returned when resuming a session that has no
	// persisted checkpoint.
	ErrNoCheckpoint = errors.New("no checkpoint found for session")
	// ErrSessionExists is returned when starting a session whose key
	// already has a live checkpoint.
	ErrSessionExists = errors.New("session already has a checkpoint")
	// ErrInvalidResume is returned when a resume call supplies input at the
	// wrong point, or omits input required by the persisted suspend point.
	ErrInvalidResume = errors.New("resume input does not match persisted suspend point")
	// ErrConcurrentResume is returned to the loser of two concurrent calls
	// driving the same session.
	ErrConcurrentResume = errors.New("session is already executing")
	// ErrVersionConflict is returned by a Saver when a conditional put
	// observes a version other than the one it loaded.
	ErrVersionConflict = errors.New("checkpoint version conflict")
)

// StepError wraps a failure inside a node function. The engine guarantees
// that no state was persisted for the failing step, so a retried call with
// identical input is safe.
type StepError struct {
	Node string
	Err  error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Node, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StepError) Unwrap() error {
	return e.Err
}

// AsStepError extracts a StepError from an error chain.
func AsStepError(err error) (*StepError, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr, true
	}
	return nil, false
}
