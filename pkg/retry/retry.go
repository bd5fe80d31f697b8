// Package retry wraps a single backend invocation with bounded retries
// and exponential backoff. Callers above it (the circuit breaker) observe
// only the final success or failure of the whole attempt sequence.
package retry

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// Policy controls attempt count, backoff, and which errors are retried.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff schedule.
	BaseDelay time.Duration

	// MaxDelay caps the backoff before jitter is applied.
	MaxDelay time.Duration

	// Retryable decides whether an error deserves another attempt.
	// When nil, RetryableSignals is consulted instead.
	Retryable func(error) bool

	// RetryableSignals is a case-insensitive substring list matched
	// against the error text when Retryable is nil.
	RetryableSignals []string
}

// CloudPolicy is the standard profile for cloud vendors.
func CloudPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Retryable:   retryable,
	}
}

// LocalPolicy is a fast, low-patience profile for self-hosted backends.
// A local instance that is down fails quickly and stays down; there is no
// point waiting out a long schedule before falling back.
func LocalPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 2,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    1 * time.Second,
		Retryable:   retryable,
	}
}

// CriticalPolicy is the aggressive profile for safety-critical calls.
func CriticalPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Retryable:   retryable,
	}
}

// NoRetry fails immediately on the first error.
func NoRetry() Policy {
	return Policy{MaxAttempts: 1}
}

// Do runs op under the policy. A non-retryable error is returned after
// the first attempt; a retryable one is retried until attempts run out,
// then the last error is returned.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.shouldRetry(lastErr) || attempt == attempts {
			return lastErr
		}

		if err := sleepWithContext(ctx, Delay(p, attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// Delay computes the backoff before the attempt following attempt n:
// min(base * 2^(n-1), max) plus uniform jitter up to 10% of the capped value.
func Delay(p Policy, attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
	return delay + jitter
}

func (p Policy) shouldRetry(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	if len(p.RetryableSignals) == 0 {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, signal := range p.RetryableSignals {
		if strings.Contains(msg, strings.ToLower(signal)) {
			return true
		}
	}
	return false
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
