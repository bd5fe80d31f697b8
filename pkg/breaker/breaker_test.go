package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zen-systems/medgate/pkg/provider"
)

func testSettings() Settings {
	return Settings{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  10 * time.Second,
		CallTimeout:      time.Second,
	}
}

// fakeClock drives the breaker's time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker() (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	b := New(provider.Ollama, testSettings())
	b.now = clock.now
	return b, clock
}

func fail(b *Breaker) error {
	return b.Execute(context.Background(), func(context.Context) error {
		return errors.New("backend down")
	})
}

func succeed(b *Breaker) error {
	return b.Execute(context.Background(), func(context.Context) error {
		return nil
	})
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < 2; i++ {
		_ = fail(b)
		if b.State() != Closed {
			t.Fatalf("breaker should stay closed after %d failures", i+1)
		}
	}

	_ = fail(b)
	if b.State() != Open {
		t.Fatalf("breaker should open after 3 consecutive failures, got %v", b.State())
	}

	err := succeed(b)
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("open breaker must reject with *OpenError, got %v", err)
	}
	if openErr.Provider != provider.Ollama {
		t.Fatalf("OpenError carries wrong provider: %s", openErr.Provider)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker()

	_ = fail(b)
	_ = fail(b)
	_ = succeed(b)
	_ = fail(b)
	_ = fail(b)

	if b.State() != Closed {
		t.Fatalf("interleaved success must reset the failure count, got %v", b.State())
	}

	rec := b.Record()
	if rec.ConsecutiveFailures != 0 && rec.ConsecutiveSuccesses != 0 {
		t.Fatal("consecutive failures and successes must never both be non-zero")
	}
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < 3; i++ {
		_ = fail(b)
	}
	if b.Allow() {
		t.Fatal("open breaker must not admit before the recovery timeout")
	}

	clock.advance(10 * time.Second)
	if !b.Allow() {
		t.Fatal("breaker must admit at the recovery timeout")
	}
	if b.State() != HalfOpen {
		t.Fatalf("admission check must move open to half-open, got %v", b.State())
	}
}

func TestBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < 3; i++ {
		_ = fail(b)
	}
	clock.advance(10 * time.Second)

	_ = succeed(b)
	if b.State() != HalfOpen {
		t.Fatalf("one success must not close yet, got %v", b.State())
	}
	_ = succeed(b)
	if b.State() != Closed {
		t.Fatalf("two successes must close the breaker, got %v", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopensImmediately(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < 3; i++ {
		_ = fail(b)
	}
	clock.advance(10 * time.Second)

	_ = succeed(b) // one success, still half-open
	_ = fail(b)
	if b.State() != Open {
		t.Fatalf("any half-open failure must reopen, got %v", b.State())
	}

	// The recovery timer restarted with the new failure.
	clock.advance(5 * time.Second)
	if b.Allow() {
		t.Fatal("reopened breaker must wait out a fresh recovery timeout")
	}
	clock.advance(5 * time.Second)
	if !b.Allow() {
		t.Fatal("breaker must admit after the restarted timeout")
	}
}

func TestBreaker_CallTimeoutCountsAsFailure(t *testing.T) {
	settings := testSettings()
	settings.CallTimeout = 20 * time.Millisecond
	b := New(provider.Ollama, settings)

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if rec := b.Record(); rec.ConsecutiveFailures != 1 {
		t.Fatalf("timeout must count as a failure, got %d", rec.ConsecutiveFailures)
	}
}

func TestBreaker_RecordTotals(t *testing.T) {
	b, _ := newTestBreaker()

	_ = succeed(b)
	_ = fail(b)
	_ = fail(b)

	rec := b.Record()
	if rec.TotalRequests != 3 || rec.TotalSuccesses != 1 || rec.TotalFailures != 2 {
		t.Fatalf("unexpected totals: %+v", rec)
	}
	if rec.Provider != provider.Ollama {
		t.Fatalf("record carries wrong provider: %s", rec.Provider)
	}
}

func TestRegistry_ResetAll(t *testing.T) {
	reg := NewRegistry([]provider.ID{provider.Ollama, provider.Anthropic}, nil)

	b, ok := reg.Get(provider.Ollama)
	if !ok {
		t.Fatal("registry missing ollama breaker")
	}
	for i := 0; i < 10; i++ {
		_ = fail(b)
	}
	if b.State() != Open {
		t.Fatal("breaker should be open")
	}

	reg.ResetAll()
	if b.State() != Closed {
		t.Fatal("ResetAll must force breakers back to closed")
	}

	records := reg.Snapshot()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, rec := range records {
		if rec.State != Closed.String() {
			t.Fatalf("provider %s not closed after reset", rec.Provider)
		}
	}
}
