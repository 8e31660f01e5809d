package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ---------------------------------------------------------------------------
// ErrorClass
// ---------------------------------------------------------------------------

// ErrorClass buckets per-record failures by how the pipelines must react.
type ErrorClass string

const (
	// ErrorClassTransient is retryable with backoff inside the record budget
	ErrorClassTransient ErrorClass = "TRANSIENT"
	// ErrorClassValidation is terminal for the record, the run continues
	ErrorClassValidation ErrorClass = "VALIDATION"
	// ErrorClassDependency means a referenced record is not synced yet; the
	// record is skipped and picked up by a later run
	ErrorClassDependency ErrorClass = "DEPENDENCY"
	// ErrorClassConflict means both sides drifted; the record is frozen
	ErrorClassConflict ErrorClass = "CONFLICT"
	// ErrorClassFatal aborts the whole run, typically dead credentials
	ErrorClassFatal ErrorClass = "FATAL"
)

// String returns the string representation of ErrorClass
func (c ErrorClass) String() string {
	return string(c)
}

// ---------------------------------------------------------------------------
// RemoteError
// ---------------------------------------------------------------------------

// RemoteError is a failure reported by the remote ledger API, carrying
// enough structure for the pipelines to decide between retry and giving up.
type RemoteError struct {
	// StatusCode is the HTTP status, 0 for transport-level failures
	StatusCode int
	// Code is the machine-readable error code from the response body
	Code string
	// Message is the human-readable message from the response body
	Message string
	// RetryAfter is the server-requested wait, nonzero only for 429
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("ledger: remote request failed: %s", e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("ledger: remote returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ledger: remote returned %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure is worth another attempt: rate
// limits, server errors and transport failures are, client errors are not.
func (e *RemoteError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == 429:
		return true
	case e.StatusCode == 408:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

// ClassifyError maps any per-record failure onto the error taxonomy.
func ClassifyError(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDependencyMissing):
		return ErrorClassDependency
	case errors.Is(err, ErrMalformedDocument), errors.Is(err, ErrRemoteGone), errors.Is(err, ErrInvalidResolution):
		return ErrorClassValidation
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrConnectionNotFound):
		return ErrorClassFatal
	case errors.Is(err, ErrStateConflicted):
		return ErrorClassConflict
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorClassTransient
	}

	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		switch {
		case remoteErr.Retryable():
			return ErrorClassTransient
		case remoteErr.StatusCode == 401 || remoteErr.StatusCode == 403:
			return ErrorClassFatal
		default:
			return ErrorClassValidation
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassTransient
	}

	// Anything else is an unexpected local failure, typically the store
	// refusing a write. Retrying blind would repeat the damage, so the run
	// stops.
	return ErrorClassFatal
}
