package eventstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that a stream does not exist.
	ErrNotFound = errors.New("stream not found")
	// ErrConcurrencyConflict reports a failed expected-version check.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrTenantRequired reports an operation issued without a tenant.
	ErrTenantRequired = errors.New("tenant required")
	// ErrTenantNotAllowed reports a tenant rejected by the tenancy policy.
	ErrTenantNotAllowed = errors.New("tenant not allowed")
	// ErrStreamKeyRequired reports an operation issued without a stream key.
	ErrStreamKeyRequired = errors.New("stream key required")
	// ErrStreamArchived reports an append to an archived stream.
	ErrStreamArchived = errors.New("stream is archived")
	// ErrStorageUnavailable reports that the underlying store could not be reached in time.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrPartialCommit reports events found in the partition their stream's
	// archived flag does not point to. It is a fatal consistency error.
	ErrPartialCommit = errors.New("partial commit detected")
)

// ConflictError carries the details of a failed expected-version check.
// It matches ErrConcurrencyConflict with errors.Is.
type ConflictError struct {
	Stream   StreamID
	Expected ExpectedVersion
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: stream %s expected version %d, actual %d", ErrConcurrencyConflict, e.Stream, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrencyConflict }

// Unavailable wraps cause as ErrStorageUnavailable, keeping both inspectable.
func Unavailable(op string, cause error) error {
	if cause == nil || errors.Is(cause, ErrStorageUnavailable) {
		return cause
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, cause)
}

// PartialCommit builds the integrity error for id.
func PartialCommit(id StreamID, detail string) error {
	return fmt.Errorf("%w: stream %s: %s", ErrPartialCommit, id, detail)
}

// ErrInvalidFilter reports a scan filter expression that does not compile.
var ErrInvalidFilter = errors.New("invalid filter")
