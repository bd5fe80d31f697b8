package availability

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zen-systems/medgate/pkg/breaker"
	"github.com/zen-systems/medgate/pkg/provider"
)

// Options tune the cache. Thresholds mirror the circuit breaker's so that
// instances without the owning breaker in memory converge on the same view.
type Options struct {
	TTL              time.Duration
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = 2
	}
	if o.ResetTimeout <= 0 {
		o.ResetTimeout = 30 * time.Second
	}
	return o
}

// Cache is the cross-instance availability view. Every write goes to both
// the shared store and the in-process fallback, so losing the shared store
// degrades to process-local health rather than failing routing.
type Cache struct {
	shared   Store
	fallback *MemoryStore
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// NewCache builds a cache over the shared store. shared may be nil, in
// which case only the in-process fallback is used.
func NewCache(shared Store, opts Options, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		shared:   shared,
		fallback: NewMemoryStore(),
		opts:     opts.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns the cached record for a provider. A miss or expired entry
// returns nil: unknown is treated as available by callers, never as down.
// Reading an open record past the reset timeout flips the returned view
// to half-open so the next caller probes recovery; the stored failure
// counters are left untouched.
func (c *Cache) Get(ctx context.Context, id provider.ID) *Record {
	rec := c.read(ctx, id)
	if rec == nil {
		return nil
	}

	if rec.CircuitState == breaker.Open.String() && c.now().Sub(rec.LastChecked) >= c.opts.ResetTimeout {
		view := *rec
		view.CircuitState = breaker.HalfOpen.String()
		view.Available = true
		return &view
	}
	return rec
}

// Set overwrites the record in the shared store and the fallback.
func (c *Cache) Set(ctx context.Context, id provider.ID, rec Record) {
	rec.LastChecked = c.now()
	if err := c.fallback.Set(ctx, id, rec, c.opts.TTL); err != nil {
		c.logger.Warn("availability fallback write failed", zap.String("provider", string(id)), zap.Error(err))
	}
	if c.shared == nil {
		return
	}
	if err := c.shared.Set(ctx, id, rec, c.opts.TTL); err != nil {
		c.logger.Warn("availability store write failed, using in-process fallback",
			zap.String("provider", string(id)), zap.Error(err))
	}
}

// RecordSuccess marks a successful call. From half-open the state closes
// only once the success threshold is met, mirroring the breaker. The
// prior state is read through Get so that an open record past the reset
// timeout counts as half-open here too.
func (c *Cache) RecordSuccess(ctx context.Context, id provider.ID, latency time.Duration) {
	prior := c.Get(ctx, id)

	rec := Record{
		Provider:       id,
		Available:      true,
		CircuitState:   breaker.Closed.String(),
		ResponseTimeMs: latency.Milliseconds(),
	}
	if prior != nil && prior.CircuitState == breaker.HalfOpen.String() {
		rec.ConsecutiveSuccesses = prior.ConsecutiveSuccesses + 1
		if rec.ConsecutiveSuccesses < c.opts.SuccessThreshold {
			rec.CircuitState = breaker.HalfOpen.String()
		} else {
			rec.ConsecutiveSuccesses = 0
		}
	}
	c.Set(ctx, id, rec)
}

// RecordFailure marks a failed call. Reaching the failure threshold, or
// any failure while half-open, opens the circuit.
func (c *Cache) RecordFailure(ctx context.Context, id provider.ID, errText string) {
	prior := c.Get(ctx, id)

	rec := Record{
		Provider:  id,
		Available: true,
		LastError: errText,
	}
	if prior != nil {
		rec.ConsecutiveFailures = prior.ConsecutiveFailures
		rec.CircuitState = prior.CircuitState
		rec.ResponseTimeMs = prior.ResponseTimeMs
	}
	rec.ConsecutiveFailures++
	rec.ConsecutiveSuccesses = 0

	halfOpen := prior != nil && prior.CircuitState == breaker.HalfOpen.String()
	if halfOpen || rec.ConsecutiveFailures >= c.opts.FailureThreshold {
		rec.CircuitState = breaker.Open.String()
		rec.Available = false
	} else if rec.CircuitState == "" {
		rec.CircuitState = breaker.Closed.String()
	}
	c.Set(ctx, id, rec)
}

// BestAvailable returns the first provider in preference order whose
// circuit is not open; failing that, the first half-open one; failing
// that, the first preference. It never reports "no provider".
func (c *Cache) BestAvailable(ctx context.Context, preference []provider.ID) provider.ID {
	var firstHalfOpen provider.ID
	for _, id := range preference {
		rec := c.Get(ctx, id)
		if rec == nil || rec.CircuitState != breaker.Open.String() {
			if rec != nil && rec.CircuitState == breaker.HalfOpen.String() {
				if firstHalfOpen == "" {
					firstHalfOpen = id
				}
				continue
			}
			return id
		}
	}
	if firstHalfOpen != "" {
		return firstHalfOpen
	}
	if len(preference) > 0 {
		return preference[0]
	}
	return ""
}

// Snapshot returns the current record for each provider, nil entries
// omitted. Used by the health surface.
func (c *Cache) Snapshot(ctx context.Context, ids []provider.ID) []Record {
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		if rec := c.Get(ctx, id); rec != nil {
			records = append(records, *rec)
		}
	}
	return records
}

// read prefers the shared store and silently degrades to the fallback.
func (c *Cache) read(ctx context.Context, id provider.ID) *Record {
	if c.shared != nil {
		rec, err := c.shared.Get(ctx, id)
		if err == nil {
			if rec != nil {
				return rec
			}
		} else {
			c.logger.Warn("availability store read failed, using in-process fallback",
				zap.String("provider", string(id)), zap.Error(err))
		}
	}
	rec, err := c.fallback.Get(ctx, id)
	if err != nil || rec == nil {
		return nil
	}
	return rec
}
