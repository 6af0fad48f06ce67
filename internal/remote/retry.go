package remote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// RetryPolicy retries failed record queries with exponential backoff: the
// k-th retry waits BaseDelay * 2^(k-1).
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetryPolicy makes three attempts, waiting 1s then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: types.DefaultRetryAttempts, BaseDelay: types.DefaultRetryDelay}
}

// NoRetry makes a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{Attempts: 1}
}

// retryable reports whether err may succeed on a later attempt: transport
// failures and 5xx responses are, client errors are not.
func retryable(err error) bool {
	var re *types.RemoteError
	if errors.As(err, &re) {
		return re.StatusCode >= 500 || re.StatusCode == 429
	}
	return errors.Is(err, types.ErrNetwork)
}

func (p RetryPolicy) run(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	attempts := max(p.Attempts, 1)
	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || attempt >= attempts || !retryable(err) {
			return err
		}
		logger.Debug("retrying request", "op", op, "attempt", attempt, "delay", delay, "err", err)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(err, ctx.Err())
			case <-timer.C:
			}
		}
		delay *= 2
	}
}
