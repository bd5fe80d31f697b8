package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Retryable:   func(error) bool { return false },
	}

	wantErr := errors.New("invalid api key")
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Fatalf("expected original error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-retryable error must not retry, got %d calls", calls)
	}
}

func TestDo_RetryableUsesAllAttempts(t *testing.T) {
	calls := 0
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Retryable:   func(error) bool { return true },
	}

	wantErr := errors.New("rate limit")
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestDo_SucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Retryable:   func(error) bool { return true },
	}

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("overloaded")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDo_SignalListClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{name: "matching signal retries", err: errors.New("503 service overloaded"), wantCalls: 2},
		{name: "non-matching fails fast", err: errors.New("401 unauthorized"), wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			p := Policy{
				MaxAttempts:      2,
				BaseDelay:        time.Millisecond,
				MaxDelay:         2 * time.Millisecond,
				RetryableSignals: []string{"overloaded", "rate limit"},
			}
			_ = Do(context.Background(), p, func(context.Context) error {
				calls++
				return tt.err
			})
			if calls != tt.wantCalls {
				t.Fatalf("got %d calls, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestDelay_ExponentialWithCapAndJitter(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond}

	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{attempt: 1, base: 100 * time.Millisecond},
		{attempt: 2, base: 200 * time.Millisecond},
		{attempt: 3, base: 400 * time.Millisecond},
		{attempt: 4, base: 400 * time.Millisecond}, // capped
	}

	for _, tt := range tests {
		for i := 0; i < 50; i++ {
			d := Delay(p, tt.attempt)
			min := tt.base
			max := tt.base + tt.base/10
			if d < min || d > max {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", tt.attempt, d, min, max)
			}
		}
	}
}

func TestDo_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{
		MaxAttempts: 10,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    time.Second,
		Retryable:   func(error) bool { return true },
	}

	err := Do(ctx, p, func(context.Context) error {
		calls++
		cancel()
		return errors.New("timeout")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
}
