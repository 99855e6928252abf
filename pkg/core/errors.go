package core

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrInvalidJobName       = errors.New("asyncjobs: invalid job name (must be alphanumeric, start with letter)")
	ErrJobNameTooLong       = errors.New("asyncjobs: job name too long")
	ErrArgIdentifierTooLong = errors.New("asyncjobs: argument identifier exceeds maximum length")
	ErrInvalidUnitPayload   = errors.New("asyncjobs: unit request payload is not valid JSON")
)

// Lookup / access errors
var (
	// ErrUnknownJobName means no handler is registered for a job's name.
	ErrUnknownJobName = errors.New("asyncjobs: unrecognized job name")

	// ErrDuplicateJob means an incomplete job with the same identity
	// already exists. The scheduler absorbs this by fetching the winner;
	// it is never surfaced to callers of GetOrCreateJob.
	ErrDuplicateJob = errors.New("asyncjobs: duplicate incomplete job")

	// ErrNotFound covers stale or guessed keys and ids that no longer
	// exist. Ownership mismatches deliberately surface as ErrNotFound too,
	// so a denied request is indistinguishable from a missing resource.
	ErrNotFound = errors.New("asyncjobs: not found")

	// ErrGroupNotDone is returned when results are requested from a group
	// that still has pending or in-progress units.
	ErrGroupNotDone = errors.New("asyncjobs: job group is not finished yet")

	// ErrTooManyIterations guards the synchronous drain loop against
	// handlers that keep scheduling work forever.
	ErrTooManyIterations = errors.New("asyncjobs: jobs are probably failing to run")
)

// JobError marks an expected, caller-visible job failure. The message is
// recorded on the job; no unexpected-error report is made.
type JobError struct {
	Err error
}

func (e *JobError) Error() string {
	return e.Err.Error()
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Fail wraps an error as an expected job failure.
func Fail(err error) error {
	return &JobError{Err: err}
}

// Failf is Fail with formatting.
func Failf(format string, args ...any) error {
	return &JobError{Err: fmt.Errorf(format, args...)}
}
