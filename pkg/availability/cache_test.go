package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zen-systems/medgate/pkg/breaker"
	"github.com/zen-systems/medgate/pkg/provider"
)

func testOptions() Options {
	return Options{
		TTL:              5 * time.Minute,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

func newTestCache() (*Cache, *clock) {
	c := NewCache(nil, testOptions(), nil)
	clk := &clock{t: time.Unix(1700000000, 0)}
	c.now = clk.now
	c.fallback.now = clk.now
	return c, clk
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCache_MissReturnsNil(t *testing.T) {
	c, _ := newTestCache()
	if rec := c.Get(context.Background(), provider.Anthropic); rec != nil {
		t.Fatalf("miss must return nil, got %+v", rec)
	}
}

func TestCache_EntryExpiresAfterTTL(t *testing.T) {
	c, clk := newTestCache()
	ctx := context.Background()

	c.RecordSuccess(ctx, provider.Anthropic, 120*time.Millisecond)
	if rec := c.Get(ctx, provider.Anthropic); rec == nil || !rec.Available {
		t.Fatalf("fresh entry should be readable and available, got %+v", rec)
	}

	clk.advance(5*time.Minute + time.Second)
	if rec := c.Get(ctx, provider.Anthropic); rec != nil {
		t.Fatalf("expired entry must read as nil, got %+v", rec)
	}
}

func TestCache_FailureThresholdOpensCircuit(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()

	c.RecordFailure(ctx, provider.OpenAI, "timeout")
	c.RecordFailure(ctx, provider.OpenAI, "timeout")

	rec := c.Get(ctx, provider.OpenAI)
	if rec == nil || rec.CircuitState != breaker.Closed.String() || !rec.Available {
		t.Fatalf("below threshold should stay closed and available, got %+v", rec)
	}

	c.RecordFailure(ctx, provider.OpenAI, "timeout")
	rec = c.Get(ctx, provider.OpenAI)
	if rec == nil || rec.CircuitState != breaker.Open.String() || rec.Available {
		t.Fatalf("third failure should open, got %+v", rec)
	}
	if rec.ConsecutiveFailures != 3 {
		t.Fatalf("failure count should be 3, got %d", rec.ConsecutiveFailures)
	}
	if rec.LastError != "timeout" {
		t.Fatalf("last error not carried: %q", rec.LastError)
	}
}

func TestCache_OpenReadsHalfOpenAfterResetTimeout(t *testing.T) {
	c, clk := newTestCache()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.RecordFailure(ctx, provider.OpenAI, "down")
	}

	clk.advance(29 * time.Second)
	rec := c.Get(ctx, provider.OpenAI)
	if rec.CircuitState != breaker.Open.String() {
		t.Fatalf("circuit should still read open before the reset timeout, got %s", rec.CircuitState)
	}

	clk.advance(time.Second)
	rec = c.Get(ctx, provider.OpenAI)
	if rec.CircuitState != breaker.HalfOpen.String() || !rec.Available {
		t.Fatalf("circuit should read half-open after the reset timeout, got %+v", rec)
	}

	// The view flip is read-through only; the stored counters are intact.
	stored := c.read(ctx, provider.OpenAI)
	if stored.CircuitState != breaker.Open.String() || stored.ConsecutiveFailures != 3 {
		t.Fatalf("stored record must be untouched by the read view, got %+v", stored)
	}
}

func TestCache_HalfOpenNeedsSuccessThresholdToClose(t *testing.T) {
	c, clk := newTestCache()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.RecordFailure(ctx, provider.OpenAI, "down")
	}
	clk.advance(30 * time.Second)

	c.RecordSuccess(ctx, provider.OpenAI, 100*time.Millisecond)
	rec := c.Get(ctx, provider.OpenAI)
	if rec.CircuitState != breaker.HalfOpen.String() {
		t.Fatalf("one success must keep half-open, got %s", rec.CircuitState)
	}

	c.RecordSuccess(ctx, provider.OpenAI, 100*time.Millisecond)
	rec = c.Get(ctx, provider.OpenAI)
	if rec.CircuitState != breaker.Closed.String() || !rec.Available {
		t.Fatalf("second success must close, got %+v", rec)
	}
}

func TestCache_HalfOpenFailureReopens(t *testing.T) {
	c, clk := newTestCache()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.RecordFailure(ctx, provider.OpenAI, "down")
	}
	clk.advance(30 * time.Second)

	c.RecordFailure(ctx, provider.OpenAI, "still down")
	rec := c.read(ctx, provider.OpenAI)
	if rec.CircuitState != breaker.Open.String() || rec.Available {
		t.Fatalf("half-open failure must reopen, got %+v", rec)
	}
}

func TestCache_BestAvailableOrder(t *testing.T) {
	c, clk := newTestCache()
	ctx := context.Background()
	pref := []provider.ID{provider.Anthropic, provider.OpenAI, provider.Google}

	// No records at all: unknown reads as available, first preference wins.
	if got := c.BestAvailable(ctx, pref); got != provider.Anthropic {
		t.Fatalf("empty cache should yield first preference, got %s", got)
	}

	// Open anthropic: next in order wins.
	for i := 0; i < 3; i++ {
		c.RecordFailure(ctx, provider.Anthropic, "down")
	}
	if got := c.BestAvailable(ctx, pref); got != provider.OpenAI {
		t.Fatalf("open first preference should be skipped, got %s", got)
	}

	// Open everything: every read flips to half-open after the reset
	// timeout, and the first half-open candidate is returned.
	for i := 0; i < 3; i++ {
		c.RecordFailure(ctx, provider.OpenAI, "down")
		c.RecordFailure(ctx, provider.Google, "down")
	}
	if got := c.BestAvailable(ctx, pref); got != pref[0] {
		t.Fatalf("all-open should fall back to the first preference, got %s", got)
	}

	clk.advance(30 * time.Second)
	if got := c.BestAvailable(ctx, pref); got != provider.Anthropic {
		t.Fatalf("first half-open candidate should win, got %s", got)
	}
}

func TestCache_SharedStoreFailureDegradesToFallback(t *testing.T) {
	c, _ := newTestCache()
	c.shared = failingStore{}
	ctx := context.Background()

	c.RecordSuccess(ctx, provider.Ollama, 50*time.Millisecond)

	rec := c.Get(ctx, provider.Ollama)
	if rec == nil || !rec.Available {
		t.Fatalf("fallback must serve reads when the shared store fails, got %+v", rec)
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, provider.ID) (*Record, error) {
	return nil, errors.New("store unavailable")
}

func (failingStore) Set(context.Context, provider.ID, Record, time.Duration) error {
	return errors.New("store unavailable")
}

func (failingStore) Close() error { return nil }

func TestMemoryStore_TTL(t *testing.T) {
	s := NewMemoryStore()
	clk := &clock{t: time.Unix(1700000000, 0)}
	s.now = clk.now
	ctx := context.Background()

	rec := Record{Provider: provider.VLLM, Available: true, CircuitState: breaker.Closed.String()}
	if err := s.Set(ctx, provider.VLLM, rec, time.Minute); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, provider.VLLM)
	if err != nil || got == nil || got.Provider != provider.VLLM {
		t.Fatalf("expected stored record, got %+v err %v", got, err)
	}

	clk.advance(61 * time.Second)
	got, err = s.Get(ctx, provider.VLLM)
	if err != nil || got != nil {
		t.Fatalf("expired record must read as nil, got %+v err %v", got, err)
	}
}
