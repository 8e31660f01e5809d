package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// ---------------------------------------------------------------------------
// Error Taxonomy Tests
// ---------------------------------------------------------------------------

func TestRemoteError_Retryable(t *testing.T) {
	tests := []struct {
		name      string
		err       *RemoteError
		retryable bool
	}{
		{"Transport failure", &RemoteError{StatusCode: 0, Message: "connection refused"}, true},
		{"Rate limited", &RemoteError{StatusCode: 429, RetryAfter: 2 * time.Second}, true},
		{"Server error", &RemoteError{StatusCode: 503}, true},
		{"Request timeout", &RemoteError{StatusCode: 408}, true},
		{"Validation rejection", &RemoteError{StatusCode: 400, Code: "VALIDATION"}, false},
		{"Not found", &RemoteError{StatusCode: 404}, false},
		{"Unauthorized", &RemoteError{StatusCode: 401}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.err.Retryable())
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"Dependency missing", fmt.Errorf("invoice: %w", ErrDependencyMissing), ErrorClassDependency},
		{"Malformed document", fmt.Errorf("decode: %w", ErrMalformedDocument), ErrorClassValidation},
		{"Remote record gone", ErrRemoteGone, ErrorClassValidation},
		{"Dead credentials", ErrUnauthenticated, ErrorClassFatal},
		{"Missing connection", ErrConnectionNotFound, ErrorClassFatal},
		{"Frozen state", ErrStateConflicted, ErrorClassConflict},
		{"Server error", &RemoteError{StatusCode: 500}, ErrorClassTransient},
		{"Rate limit", &RemoteError{StatusCode: 429}, ErrorClassTransient},
		{"Remote validation", &RemoteError{StatusCode: 422, Code: "VALIDATION"}, ErrorClassValidation},
		{"Remote auth failure", &RemoteError{StatusCode: 401}, ErrorClassFatal},
		{"Deadline", context.DeadlineExceeded, ErrorClassTransient},
		{"Unknown local failures are fatal", fmt.Errorf("something odd"), ErrorClassFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestRemoteError_Error(t *testing.T) {
	assert.Equal(t,
		"ledger: remote returned 429 RATE_LIMITED: slow down",
		(&RemoteError{StatusCode: 429, Code: "RATE_LIMITED", Message: "slow down"}).Error(),
	)
	assert.Equal(t,
		"ledger: remote request failed: dial tcp: connection refused",
		(&RemoteError{Message: "dial tcp: connection refused"}).Error(),
	)
}
