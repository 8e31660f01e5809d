package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// ---------------------------------------------------------------------------
// Retry Policy
// ---------------------------------------------------------------------------

// RetryPolicy bounds retries of transient remote failures. Terminal
// failures never retry; a 429 waits the server-requested interval instead
// of the computed backoff.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries including the first
	MaxAttempts int
	// BaseDelay is the first backoff step
	BaseDelay time.Duration
	// MaxDelay caps the backoff
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the default retry tuning.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Delay returns the wait before the retry following the given attempt.
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	var remoteErr *ledger.RemoteError
	if errors.As(err, &remoteErr) && remoteErr.RetryAfter > 0 {
		return remoteErr.RetryAfter
	}
	// Exponential backoff: BaseDelay * 2^(attempt-1)
	delay := p.BaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// withRetry runs op, retrying transient failures within the policy budget.
// Terminal failures and context cancellation return immediately.
func withRetry(ctx context.Context, policy RetryPolicy, op func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if ledger.ClassifyError(err) != ledger.ErrorClassTransient {
			return err
		}
		if attempt >= policy.MaxAttempts {
			return err
		}

		timer := time.NewTimer(policy.Delay(attempt, err))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
