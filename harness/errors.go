package harness

import (
	"errors"
	"fmt"
)

// RejectionError reports that a store refused an operation because it
// broke a declared rule. The rejection is an expected outcome.
type RejectionError struct {
	Rule string
	Err  error
}

// Reject builds a RejectionError for rule, wrapping the store error.
func Reject(rule string, err error) *RejectionError {
	return &RejectionError{Rule: rule, Err: err}
}

func (e *RejectionError) Error() string {
	if e.Err == nil {
		return "rejected: " + e.Rule
	}

	return fmt.Sprintf("rejected: %s: %v", e.Rule, e.Err)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// IsRejection reports whether err is or wraps a RejectionError.
func IsRejection(err error) bool {
	var rej *RejectionError

	return errors.As(err, &rej)
}

// ErrInjectedFailure aborts a transaction on purpose so that rollback can
// be verified.
var ErrInjectedFailure = errors.New("injected payment failure")

// ExperimentError wraps an unexpected failure of a whole experiment.
type ExperimentError struct {
	Experiment string
	Err        error
}

func (e *ExperimentError) Error() string {
	return fmt.Sprintf("experiment %s: %v", e.Experiment, e.Err)
}

func (e *ExperimentError) Unwrap() error {
	return e.Err
}

// ConnectionError reports that a backend could not be reached.
type ConnectionError struct {
	Backend Backend
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
