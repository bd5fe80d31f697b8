// Package breaker implements a per-provider circuit breaker. Each breaker
// is a three-state admission gate: closed (normal), open (fail fast after
// consecutive failures), half-open (trial calls after a recovery timeout).
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zen-systems/medgate/pkg/provider"
)

// State is the breaker's admission state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Settings configures one breaker.
type Settings struct {
	// FailureThreshold opens the breaker after this many consecutive
	// failures while closed.
	FailureThreshold int

	// SuccessThreshold closes the breaker after this many consecutive
	// successes while half-open.
	SuccessThreshold int

	// RecoveryTimeout is how long an open breaker waits before the next
	// admission check moves it to half-open.
	RecoveryTimeout time.Duration

	// CallTimeout bounds each admitted call.
	CallTimeout time.Duration
}

// CloudSettings returns defaults for cloud vendors.
func CloudSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		CallTimeout:      30 * time.Second,
	}
}

// LocalSettings returns defaults for self-hosted backends: quicker to
// retry recovery, more patient per call since local inference is slower.
func LocalSettings() Settings {
	return Settings{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  10 * time.Second,
		CallTimeout:      60 * time.Second,
	}
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 2
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = 30 * time.Second
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 30 * time.Second
	}
	return s
}

// Record is a point-in-time snapshot of one breaker.
type Record struct {
	Provider             provider.ID `json:"provider"`
	State                string      `json:"state"`
	ConsecutiveFailures  int         `json:"consecutive_failures"`
	ConsecutiveSuccesses int         `json:"consecutive_successes"`
	LastFailureAt        time.Time   `json:"last_failure_at,omitempty"`
	LastSuccessAt        time.Time   `json:"last_success_at,omitempty"`
	TotalRequests        int64       `json:"total_requests"`
	TotalFailures        int64       `json:"total_failures"`
	TotalSuccesses       int64       `json:"total_successes"`
}

// OpenError is raised when a call is rejected without reaching the
// backend. It is distinguishable from backend failures so the router can
// fall back immediately instead of burning a retry budget.
type OpenError struct {
	Provider   provider.ID
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for provider %s (retry after %s)", e.Provider, e.RetryAfter)
}

// IsOpen reports whether err is a circuit-open rejection.
func IsOpen(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}

// TimeoutError is recorded when an admitted call outlives CallTimeout.
type TimeoutError struct {
	Provider provider.ID
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s call exceeded %s", e.Provider, e.Timeout)
}

// Breaker guards calls to a single provider. Counters are process-local;
// the availability cache carries the cross-instance view.
type Breaker struct {
	provider provider.ID
	settings Settings

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureAt        time.Time
	lastSuccessAt        time.Time
	totalRequests        int64
	totalFailures        int64
	totalSuccesses       int64

	now func() time.Time
}

// New creates a breaker for one provider.
func New(id provider.ID, settings Settings) *Breaker {
	return &Breaker{
		provider: id,
		settings: settings.withDefaults(),
		state:    Closed,
		now:      time.Now,
	}
}

// State returns the current state, applying the lazy open-to-half-open
// transition if the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Allow reports whether a call would be admitted right now. Checking
// admission on an expired open breaker moves it to half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState() != Open
}

// currentState must be called with the lock held.
func (b *Breaker) currentState() State {
	if b.state == Open && b.now().Sub(b.lastFailureAt) >= b.settings.RecoveryTimeout {
		b.state = HalfOpen
		b.consecutiveSuccesses = 0
	}
	return b.state
}

// Execute admits and runs fn under the per-call timeout, then records the
// outcome. A rejected call returns *OpenError without touching the backend.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	b.totalRequests++
	state := b.currentState()
	if state == Open {
		retryAfter := b.settings.RecoveryTimeout - b.now().Sub(b.lastFailureAt)
		b.mu.Unlock()
		return &OpenError{Provider: b.provider, RetryAfter: retryAfter}
	}
	b.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, b.settings.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		// The call did not come back in time. The goroutine is left to
		// drain into the buffered channel; its late result is discarded.
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			err = &TimeoutError{Provider: b.provider, Timeout: b.settings.CallTimeout}
		}
	}

	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	b.lastSuccessAt = b.now()
	b.consecutiveFailures = 0

	if b.state == HalfOpen {
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.settings.SuccessThreshold {
			b.state = Closed
			b.consecutiveSuccesses = 0
		}
		return
	}
	b.consecutiveSuccesses++
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.lastFailureAt = b.now()
	b.consecutiveSuccesses = 0

	switch b.state {
	case HalfOpen:
		// Any failure during trial reopens and restarts the recovery timer.
		b.state = Open
		b.consecutiveFailures++
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.settings.FailureThreshold {
			b.state = Open
		}
	default:
		b.consecutiveFailures++
	}
}

// Record returns a snapshot for health surfaces.
func (b *Breaker) Record() Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Record{
		Provider:             b.provider,
		State:                b.currentState().String(),
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		LastFailureAt:        b.lastFailureAt,
		LastSuccessAt:        b.lastSuccessAt,
		TotalRequests:        b.totalRequests,
		TotalFailures:        b.totalFailures,
		TotalSuccesses:       b.totalSuccesses,
	}
}

// Reset forces the breaker back to closed and clears consecutive counters.
// Totals are kept for accounting.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
}
