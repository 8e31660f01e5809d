package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

func TestRetryPolicy_DelayBacksOffExponentially(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond}
	err := &ledger.RemoteError{StatusCode: 500, Message: "internal error"}

	assert.Equal(t, 100*time.Millisecond, policy.Delay(1, err))
	assert.Equal(t, 200*time.Millisecond, policy.Delay(2, err))
	assert.Equal(t, 400*time.Millisecond, policy.Delay(3, err))
	// Capped from here on.
	assert.Equal(t, 400*time.Millisecond, policy.Delay(4, err))
}

func TestRetryPolicy_DelayHonorsRetryAfter(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond}
	err := &ledger.RemoteError{StatusCode: 429, Code: "RATE_LIMITED", Message: "slow down", RetryAfter: 750 * time.Millisecond}

	// The server-requested wait wins over the computed backoff, even when
	// the error arrives wrapped.
	assert.Equal(t, 750*time.Millisecond, policy.Delay(1, err))
	assert.Equal(t, 750*time.Millisecond, policy.Delay(3, fmt.Errorf("listing page 4: %w", err)))
}

func TestWithRetry_StopsOnTerminalFailure(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0

	err := withRetry(context.Background(), policy, func() error {
		calls++
		return &ledger.RemoteError{StatusCode: 422, Code: "VALIDATION", Message: "tax_number is invalid"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	var remoteErr *ledger.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, 422, remoteErr.StatusCode)
}

func TestWithRetry_RetriesTransientUntilSuccess(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	calls := 0

	err := withRetry(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return &ledger.RemoteError{StatusCode: 503, Message: "maintenance window"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ExhaustsAttemptBudget(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	calls := 0

	err := withRetry(context.Background(), policy, func() error {
		calls++
		return &ledger.RemoteError{StatusCode: 500, Message: "internal error"}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	var remoteErr *ledger.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, 500, remoteErr.StatusCode)
}

func TestWithRetry_CancellationCutsBackoffShort(t *testing.T) {
	// A backoff far longer than the context deadline: cancellation must win.
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Second, MaxDelay: 10 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	started := time.Now()
	err := withRetry(ctx, policy, func() error {
		calls++
		return &ledger.RemoteError{StatusCode: 503, Message: "maintenance window"}
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(started), time.Second)
}
