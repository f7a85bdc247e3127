package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested job or report does not exist.
	ErrNotFound = errors.New("dailybrief: not found")

	// ErrInvalidState indicates the job is not in a state that permits the
	// requested transition.
	ErrInvalidState = errors.New("dailybrief: job state does not permit this operation")

	// ErrInvalidJobType indicates an enqueue with a type outside the
	// closed job type set.
	ErrInvalidJobType = errors.New("dailybrief: unknown job type")

	// ErrMissingTargetDate indicates an enqueue without a target date.
	ErrMissingTargetDate = errors.New("dailybrief: target date is required")

	// ErrInvalidTargetDate indicates a target date that is not YYYY-MM-DD.
	ErrInvalidTargetDate = errors.New("dailybrief: target date must be formatted as 2006-01-02")
)

// UpstreamError wraps a failed or timed-out collaborator call. Its message
// is what gets recorded verbatim on the failed job.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Upstream wraps err as an UpstreamError for the named collaborator call.
func Upstream(op string, err error) error {
	return &UpstreamError{Op: op, Err: err}
}
