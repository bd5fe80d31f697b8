// Package router selects a provider per request and walks an ordered
// fallback chain when the selection fails or its circuit is open. Every
// call goes through the provider's circuit breaker, which itself wraps
// the retry executor, and every outcome feeds the availability cache.
package router

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zen-systems/medgate/pkg/availability"
	"github.com/zen-systems/medgate/pkg/breaker"
	"github.com/zen-systems/medgate/pkg/provider"
	"github.com/zen-systems/medgate/pkg/retry"
)

// Config is the routing policy. It is read-only at request time; reloads
// construct a new Router.
type Config struct {
	// PrimaryProvider answers when nothing else decides the route and
	// cost optimization is off.
	PrimaryProvider provider.ID

	// FallbackProviders is the ordered chain tried after a failure.
	FallbackProviders []provider.ID

	// PreferCheapest routes undecided requests to the cheapest
	// registered provider. Critical complexity overrides it.
	PreferCheapest bool

	// ComplexityProviders maps inferred complexity to a provider.
	ComplexityProviders map[Complexity]provider.ID

	// TaskProviders maps task types to providers. Safety-critical tasks
	// point at the highest-accuracy backend, commodity tasks at the
	// cheapest one; the grouping lives in configuration.
	TaskProviders map[string]provider.ID

	// RetryPolicies assigns a retry profile per provider. Providers
	// missing here get a kind-appropriate default.
	RetryPolicies map[provider.ID]retry.Policy
}

// Request is one routed generation request.
type Request struct {
	ID        string             `json:"id,omitempty"`
	Messages  []provider.Message `json:"messages"`
	Provider  provider.ID        `json:"provider,omitempty"` // explicit override
	TaskType  string             `json:"task_type,omitempty"`
	Model     string             `json:"model,omitempty"`
	MaxTokens int                `json:"max_tokens,omitempty"`
}

// Result is the annotated outcome of a routed request.
type Result struct {
	RequestID    string         `json:"request_id,omitempty"`
	Content      string         `json:"content"`
	Provider     provider.ID    `json:"provider"`
	Model        string         `json:"model"`
	Complexity   Complexity     `json:"complexity"`
	UsedFallback bool           `json:"used_fallback"`
	Latency      time.Duration  `json:"-"`
	LatencyMs    int64          `json:"latency_ms"`
	Usage        provider.Usage `json:"usage"`
	Confidence   float64        `json:"confidence,omitempty"`
}

// ExhaustedError reports that every provider in the chain failed or was
// rejected. It carries the last backend error; callers downstream decide
// whether exhaustion is fatal.
type ExhaustedError struct {
	Tried   []provider.ID
	LastErr error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers exhausted (tried %v): %v", e.Tried, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// Metrics is the observability hook the router emits into. Emission is a
// side channel: implementations must not block or panic.
type Metrics interface {
	ObserveProviderCall(id provider.ID, outcome string, latency time.Duration)
	CountFallback(from, to provider.ID)
}

// Router routes requests across the provider set.
type Router struct {
	registry *provider.Registry
	breakers *breaker.Registry
	cache    *availability.Cache
	cfg      Config
	logger   *zap.Logger
	metrics  Metrics
}

// Option configures a Router.
type Option func(*Router)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New creates a router. The config is validated against the registry:
// every referenced provider must be registered.
func New(registry *provider.Registry, breakers *breaker.Registry, cache *availability.Cache, cfg Config, logger *zap.Logger, opts ...Option) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := validateConfig(registry, cfg); err != nil {
		return nil, err
	}
	r := &Router{
		registry: registry,
		breakers: breakers,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func validateConfig(registry *provider.Registry, cfg Config) error {
	check := func(id provider.ID, where string) error {
		if _, ok := registry.Get(id); !ok {
			return fmt.Errorf("%s references unregistered provider %q", where, id)
		}
		return nil
	}
	if cfg.PrimaryProvider == "" {
		return fmt.Errorf("primary provider is required")
	}
	if err := check(cfg.PrimaryProvider, "primary"); err != nil {
		return err
	}
	for _, id := range cfg.FallbackProviders {
		if err := check(id, "fallback chain"); err != nil {
			return err
		}
	}
	for task, id := range cfg.TaskProviders {
		if err := check(id, fmt.Sprintf("task %q", task)); err != nil {
			return err
		}
	}
	for c, id := range cfg.ComplexityProviders {
		if err := check(id, fmt.Sprintf("complexity %q", c)); err != nil {
			return err
		}
	}
	return nil
}

// Route selects a provider, invokes it, and falls back down the chain on
// failure. Exhaustion returns *ExhaustedError.
func (r *Router) Route(ctx context.Context, req Request) (*Result, error) {
	complexity := Classify(req.Messages)
	chosen := r.selectProvider(req, complexity)

	// Pre-check the shared health view so a known-open provider never
	// gets a live probe on the request path.
	candidate := chosen
	if rec := r.cache.Get(ctx, candidate); rec != nil && rec.CircuitState == breaker.Open.String() {
		if sub, ok := r.firstNonOpen(ctx, candidate); ok {
			r.logger.Info("substituted unavailable provider",
				zap.String("from", string(candidate)),
				zap.String("to", string(sub)),
			)
			if r.metrics != nil {
				r.metrics.CountFallback(candidate, sub)
			}
			candidate = sub
		}
		// If everything looks open the original candidate proceeds
		// anyway; stale health data must not block the caller.
	}

	tried := make([]provider.ID, 0, 1+len(r.cfg.FallbackProviders))
	var lastErr error

	attempt := func(id provider.ID) (*Result, error) {
		tried = append(tried, id)
		resp, latency, err := r.callProvider(ctx, id, req)
		if err != nil {
			lastErr = err
			return nil, err
		}
		return &Result{
			RequestID:    req.ID,
			Content:      resp.Content,
			Provider:     id,
			Model:        resp.Model,
			Complexity:   complexity,
			UsedFallback: id != chosen,
			Latency:      latency,
			LatencyMs:    latency.Milliseconds(),
			Usage:        resp.Usage,
			Confidence:   resp.Confidence,
		}, nil
	}

	if res, err := attempt(candidate); err == nil {
		return res, nil
	}

	for _, id := range r.cfg.FallbackProviders {
		if contains(tried, id) {
			continue
		}
		if rec := r.cache.Get(ctx, id); rec != nil && rec.CircuitState == breaker.Open.String() {
			continue
		}
		r.logger.Info("falling back",
			zap.String("from", string(tried[len(tried)-1])),
			zap.String("to", string(id)),
			zap.Error(lastErr),
		)
		if r.metrics != nil {
			r.metrics.CountFallback(tried[len(tried)-1], id)
		}
		if res, err := attempt(id); err == nil {
			return res, nil
		}
	}

	return nil, &ExhaustedError{Tried: tried, LastErr: lastErr}
}

// RouteByTask routes with an explicit task type.
func (r *Router) RouteByTask(ctx context.Context, task string, req Request) (*Result, error) {
	req.TaskType = task
	return r.Route(ctx, req)
}

// selectProvider applies the priority rules: explicit override, task
// mapping, complexity mapping, then the cost-optimization default.
func (r *Router) selectProvider(req Request, complexity Complexity) provider.ID {
	if req.Provider != "" {
		if _, ok := r.registry.Get(req.Provider); ok {
			return req.Provider
		}
		r.logger.Warn("explicit provider not registered, ignoring override",
			zap.String("provider", string(req.Provider)))
	}
	if req.TaskType != "" {
		if id, ok := r.cfg.TaskProviders[req.TaskType]; ok {
			return id
		}
	}
	if id, ok := r.cfg.ComplexityProviders[complexity]; ok {
		return id
	}
	if r.cfg.PreferCheapest && complexity != Critical {
		return r.cheapest()
	}
	return r.cfg.PrimaryProvider
}

func (r *Router) cheapest() provider.ID {
	best := r.cfg.PrimaryProvider
	bestRank := best.CostRank()
	for _, id := range r.registry.IDs() {
		if rank := id.CostRank(); rank < bestRank {
			best, bestRank = id, rank
		}
	}
	return best
}

// callProvider runs one logical call: breaker admission and per-call
// timeout outside, bounded retries inside. The breaker sees one outcome
// no matter how many attempts the retry policy burned. Circuit-open
// rejections skip cache accounting because no backend was reached.
func (r *Router) callProvider(ctx context.Context, id provider.ID, req Request) (*provider.Response, time.Duration, error) {
	inv, ok := r.registry.Get(id)
	if !ok {
		return nil, 0, fmt.Errorf("provider %s not registered", id)
	}
	brk, ok := r.breakers.Get(id)
	if !ok {
		return nil, 0, fmt.Errorf("no breaker for provider %s", id)
	}

	policy := r.retryPolicy(id)
	start := time.Now()

	var resp *provider.Response
	err := brk.Execute(ctx, func(callCtx context.Context) error {
		return retry.Do(callCtx, policy, func(attemptCtx context.Context) error {
			out, invErr := inv.Invoke(attemptCtx, provider.Request{
				Messages:  req.Messages,
				Model:     req.Model,
				MaxTokens: req.MaxTokens,
			})
			if invErr != nil {
				return invErr
			}
			resp = out
			return nil
		})
	})
	latency := time.Since(start)

	switch {
	case err == nil:
		r.cache.RecordSuccess(ctx, id, latency)
		r.observe(id, "success", latency)
	case breaker.IsOpen(err):
		r.observe(id, "rejected", latency)
	default:
		r.cache.RecordFailure(ctx, id, err.Error())
		r.observe(id, "failure", latency)
	}
	if err != nil {
		return nil, latency, err
	}
	return resp, latency, nil
}

func (r *Router) retryPolicy(id provider.ID) retry.Policy {
	if p, ok := r.cfg.RetryPolicies[id]; ok {
		if p.Retryable == nil && len(p.RetryableSignals) == 0 {
			p.Retryable = provider.IsTransient
		}
		return p
	}
	if id.Local() {
		return retry.LocalPolicy(provider.IsTransient)
	}
	return retry.CloudPolicy(provider.IsTransient)
}

// firstNonOpen walks the fallback chain for the first provider whose
// cached circuit is not open, skipping the excluded candidate.
func (r *Router) firstNonOpen(ctx context.Context, exclude provider.ID) (provider.ID, bool) {
	for _, id := range r.cfg.FallbackProviders {
		if id == exclude {
			continue
		}
		rec := r.cache.Get(ctx, id)
		if rec == nil || rec.CircuitState != breaker.Open.String() {
			return id, true
		}
	}
	return "", false
}

func (r *Router) observe(id provider.ID, outcome string, latency time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.ObserveProviderCall(id, outcome, latency)
}

func contains(ids []provider.ID, id provider.ID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
