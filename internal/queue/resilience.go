package queue

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures the exponential backoff applied around store
// operations that can fail transiently (SQLITE_BUSY under write
// contention), per spec.md §7's TransientStoreError policy: base 50ms, cap
// 2s, max 5 attempts.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxRetries          uint64
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig returns spec.md §7's resolved policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     50 * time.Millisecond,
		MaxInterval:         2 * time.Second,
		MaxRetries:          4, // 4 retries after the first try: 5 attempts in all
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// breaker guards every store operation routed through withRetry (the
// writes; reads go to the store directly) behind a single circuit breaker:
// unlike the teacher (one breaker per backend type), there is only one
// store per queue, so one breaker per queue is the equivalent granularity.
func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store",
		MaxRequests: 3,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("queue: circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return !isTransient(err)
		},
	})
}

// isTransient reports whether err looks like a retryable SQLite contention
// error rather than a genuine data or logic error.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		errors.Is(err, sql.ErrTxDone)
}

// withRetry runs op through the circuit breaker with exponential backoff,
// retrying only transient errors and stopping immediately on anything else
// (including the sentinel not-found/no-ready-task errors callers check for).
func (q *Queue) withRetry(ctx context.Context, op func() error) error {
	attempt := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		_, err := q.breaker.Execute(func() (interface{}, error) {
			return nil, op()
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = q.retry.InitialInterval
	policy.MaxInterval = q.retry.MaxInterval
	policy.MaxElapsedTime = 0
	policy.Multiplier = q.retry.Multiplier
	policy.RandomizationFactor = q.retry.RandomizationFactor

	bounded := backoff.WithMaxRetries(policy, q.retry.MaxRetries)
	return backoff.Retry(attempt, backoff.WithContext(bounded, ctx))
}
