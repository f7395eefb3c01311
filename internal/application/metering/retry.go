package metering

import (
	"context"
	"time"

	"github.com/usagehq/metering/internal/infrastructure/billing"
)

// RetryPolicy controls per-call retries against the billing provider
type RetryPolicy struct {
	MaxAttempts int           // Total attempts including the first
	BaseBackoff time.Duration // Delay before the first retry
	MaxBackoff  time.Duration // Cap on the backoff delay
}

// DefaultRetryPolicy returns the retry policy used by the overage reporter
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  60 * time.Second,
	}
}

// Backoff returns the delay before retry number retryCount (0-based),
// doubling from BaseBackoff and capped at MaxBackoff
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	backoff := p.BaseBackoff
	for i := 0; i < retryCount; i++ {
		backoff *= 2
		if backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return backoff
}

// Do runs fn up to MaxAttempts times, sleeping the backoff between
// attempts. Only transient provider errors are retried; any other error
// returns immediately. Context cancellation cuts the wait short.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Backoff(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !billing.IsTransient(err) {
			return err
		}
	}
	return err
}

// CircuitBreaker counts consecutive exhausted failures within a single
// reporting run. It is created fresh for each run and never carries
// state across runs; once tripped, the run stops submitting reports.
type CircuitBreaker struct {
	threshold int
	failures  int
	tripped   bool
}

// NewCircuitBreaker creates a breaker that trips after threshold
// consecutive failures
func NewCircuitBreaker(threshold int) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &CircuitBreaker{threshold: threshold}
}

// RecordFailure counts one exhausted report attempt and returns true if
// the breaker just tripped
func (b *CircuitBreaker) RecordFailure() bool {
	if b.tripped {
		return false
	}
	b.failures++
	if b.failures >= b.threshold {
		b.tripped = true
		return true
	}
	return false
}

// RecordSuccess resets the consecutive failure count
func (b *CircuitBreaker) RecordSuccess() {
	if !b.tripped {
		b.failures = 0
	}
}

// IsOpen returns true once the breaker has tripped
func (b *CircuitBreaker) IsOpen() bool {
	return b.tripped
}
