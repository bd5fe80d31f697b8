package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zen-systems/medgate/pkg/availability"
	"github.com/zen-systems/medgate/pkg/breaker"
	"github.com/zen-systems/medgate/pkg/provider"
	"github.com/zen-systems/medgate/pkg/retry"
)

type fixture struct {
	router    *Router
	cache     *availability.Cache
	breakers  *breaker.Registry
	anthropic *provider.MockInvoker
	openai    *provider.MockInvoker
	ollama    *provider.MockInvoker
}

// newFixture wires a router over three mock providers with single-attempt
// retry policies, so one scripted failure is exactly one recorded outcome.
func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		anthropic: provider.NewMockInvoker(provider.Anthropic),
		openai:    provider.NewMockInvoker(provider.OpenAI),
		ollama:    provider.NewMockInvoker(provider.Ollama),
	}
	reg, err := provider.NewRegistry(f.anthropic, f.openai, f.ollama)
	if err != nil {
		t.Fatal(err)
	}

	ids := []provider.ID{provider.Anthropic, provider.OpenAI, provider.Ollama}
	settings := make(map[provider.ID]breaker.Settings, len(ids))
	for _, id := range ids {
		settings[id] = breaker.Settings{
			FailureThreshold: 3,
			SuccessThreshold: 2,
			RecoveryTimeout:  time.Minute,
			CallTimeout:      time.Second,
		}
	}
	f.breakers = breaker.NewRegistry(ids, settings)
	f.cache = availability.NewCache(nil, availability.Options{
		TTL:              time.Minute,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		ResetTimeout:     time.Minute,
	}, nil)

	if cfg.PrimaryProvider == "" {
		cfg.PrimaryProvider = provider.Anthropic
	}
	if cfg.RetryPolicies == nil {
		cfg.RetryPolicies = map[provider.ID]retry.Policy{}
		for _, id := range ids {
			cfg.RetryPolicies[id] = retry.NoRetry()
		}
	}

	f.router, err = New(reg, f.breakers, f.cache, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func userMessage(text string) []provider.Message {
	return []provider.Message{{Role: "user", Content: text}}
}

func TestRoute_CachedOpenProviderSkippedWithoutProbe(t *testing.T) {
	f := newFixture(t, Config{
		PrimaryProvider:   provider.Anthropic,
		FallbackProviders: []provider.ID{provider.OpenAI, provider.Ollama},
	})
	ctx := context.Background()

	f.cache.Set(ctx, provider.Anthropic, availability.Record{
		Provider:     provider.Anthropic,
		Available:    false,
		CircuitState: breaker.Open.String(),
	})

	res, err := f.router.Route(ctx, Request{Messages: userMessage("hello")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Provider != provider.OpenAI {
		t.Fatalf("expected substitution to openai, got %s", res.Provider)
	}
	if !res.UsedFallback {
		t.Fatal("substituted route must report used_fallback")
	}
	if f.anthropic.Calls() != 0 {
		t.Fatalf("known-open provider must not be probed, got %d calls", f.anthropic.Calls())
	}
}

func TestRoute_AllOpenStillAttemptsOriginal(t *testing.T) {
	f := newFixture(t, Config{
		PrimaryProvider:   provider.Anthropic,
		FallbackProviders: []provider.ID{provider.OpenAI},
	})
	ctx := context.Background()

	for _, id := range []provider.ID{provider.Anthropic, provider.OpenAI} {
		f.cache.Set(ctx, id, availability.Record{
			Provider:     id,
			Available:    false,
			CircuitState: breaker.Open.String(),
		})
	}

	// Stale health data must not block routing outright.
	res, err := f.router.Route(ctx, Request{Messages: userMessage("hello")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Provider != provider.Anthropic || res.UsedFallback {
		t.Fatalf("all-open should proceed with the original choice, got %+v", res)
	}
}

func TestRoute_FallbackOnFailure(t *testing.T) {
	f := newFixture(t, Config{
		PrimaryProvider:   provider.Anthropic,
		FallbackProviders: []provider.ID{provider.OpenAI, provider.Ollama},
	})
	f.anthropic.FailWith(&provider.Error{Provider: provider.Anthropic, Status: 500, Temporary: true, Err: errors.New("upstream 500")})

	res, err := f.router.Route(context.Background(), Request{Messages: userMessage("hello")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Provider != provider.OpenAI {
		t.Fatalf("expected first fallback to serve, got %s", res.Provider)
	}
	if !res.UsedFallback {
		t.Fatal("fallback-served result must report used_fallback")
	}
	if f.anthropic.Calls() != 1 || f.openai.Calls() != 1 || f.ollama.Calls() != 0 {
		t.Fatalf("unexpected call counts: anthropic=%d openai=%d ollama=%d",
			f.anthropic.Calls(), f.openai.Calls(), f.ollama.Calls())
	}
}

func TestRoute_PrimarySuccessIsNotFallback(t *testing.T) {
	f := newFixture(t, Config{
		PrimaryProvider:   provider.Anthropic,
		FallbackProviders: []provider.ID{provider.OpenAI},
	})

	res, err := f.router.Route(context.Background(), Request{Messages: userMessage("hello")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Provider != provider.Anthropic || res.UsedFallback {
		t.Fatalf("primary success must not report fallback, got %+v", res)
	}
}

func TestRoute_ExhaustionReturnsTypedError(t *testing.T) {
	f := newFixture(t, Config{
		PrimaryProvider:   provider.Anthropic,
		FallbackProviders: []provider.ID{provider.OpenAI, provider.Ollama},
	})
	backendErr := errors.New("backend down")
	f.anthropic.FailWith(backendErr)
	f.openai.FailWith(backendErr)
	f.ollama.FailWith(backendErr)

	_, err := f.router.Route(context.Background(), Request{Messages: userMessage("hello")})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %v", err)
	}
	if len(exhausted.Tried) != 3 {
		t.Fatalf("expected 3 tried providers, got %v", exhausted.Tried)
	}
	if !errors.Is(err, backendErr) {
		t.Fatal("exhaustion must unwrap to the last backend error")
	}
}

func TestRoute_FallbackChainSkipsAlreadyTried(t *testing.T) {
	// Primary appears again in its own fallback chain; it must not get a
	// second live probe in the same request.
	f := newFixture(t, Config{
		PrimaryProvider:   provider.Anthropic,
		FallbackProviders: []provider.ID{provider.Anthropic, provider.OpenAI},
	})
	f.anthropic.FailWith(errors.New("down"))

	res, err := f.router.Route(context.Background(), Request{Messages: userMessage("hello")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Provider != provider.OpenAI {
		t.Fatalf("expected openai, got %s", res.Provider)
	}
	if f.anthropic.Calls() != 1 {
		t.Fatalf("already-tried provider probed again: %d calls", f.anthropic.Calls())
	}
}

func TestRoute_RepeatedFailuresOpenBreakerAndStopProbes(t *testing.T) {
	f := newFixture(t, Config{
		PrimaryProvider:   provider.Anthropic,
		FallbackProviders: []provider.ID{provider.Anthropic},
		TaskProviders:     map[string]provider.ID{"general": provider.Ollama},
	})
	ctx := context.Background()
	f.ollama.FailWith(errors.New("down"), errors.New("down"), errors.New("down"))

	// Three failing routes open ollama's breaker and its cache record;
	// each request is still served by the fallback chain.
	for i := 0; i < 3; i++ {
		res, err := f.router.RouteByTask(ctx, "general", Request{Messages: userMessage("hi")})
		if err != nil {
			t.Fatalf("route %d: %v", i, err)
		}
		if res.Provider != provider.Anthropic || !res.UsedFallback {
			t.Fatalf("route %d should be served by fallback, got %+v", i, res)
		}
	}

	b, _ := f.breakers.Get(provider.Ollama)
	if b.State() != breaker.Open {
		t.Fatalf("ollama breaker should be open, got %v", b.State())
	}
	rec := f.cache.Get(ctx, provider.Ollama)
	if rec == nil || rec.CircuitState != breaker.Open.String() {
		t.Fatalf("ollama cache record should be open, got %+v", rec)
	}

	// The fourth request substitutes off the cache without touching ollama.
	if _, err := f.router.RouteByTask(ctx, "general", Request{Messages: userMessage("hi")}); err != nil {
		t.Fatal(err)
	}
	if f.ollama.Calls() != 3 {
		t.Fatalf("open provider probed again: %d calls", f.ollama.Calls())
	}
}

func TestSelectProvider_PriorityOrder(t *testing.T) {
	f := newFixture(t, Config{
		PrimaryProvider: provider.Anthropic,
		TaskProviders:   map[string]provider.ID{"summarization": provider.Ollama},
		ComplexityProviders: map[Complexity]provider.ID{
			Critical: provider.Anthropic,
			Simple:   provider.Ollama,
			Moderate: provider.OpenAI,
		},
	})

	tests := []struct {
		name       string
		req        Request
		complexity Complexity
		want       provider.ID
	}{
		{
			name:       "explicit override wins over task and complexity",
			req:        Request{Provider: provider.OpenAI, TaskType: "summarization"},
			complexity: Critical,
			want:       provider.OpenAI,
		},
		{
			name:       "task mapping wins over complexity",
			req:        Request{TaskType: "summarization"},
			complexity: Critical,
			want:       provider.Ollama,
		},
		{
			name:       "unknown task falls through to complexity",
			req:        Request{TaskType: "unknown"},
			complexity: Moderate,
			want:       provider.OpenAI,
		},
		{
			name:       "unregistered explicit override is ignored",
			req:        Request{Provider: provider.DeepSeek},
			complexity: Simple,
			want:       provider.Ollama,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.router.selectProvider(tt.req, tt.complexity); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSelectProvider_PreferCheapestWithCriticalOverride(t *testing.T) {
	f := newFixture(t, Config{
		PrimaryProvider: provider.Anthropic,
		PreferCheapest:  true,
	})

	if got := f.router.selectProvider(Request{}, Simple); got != provider.Ollama {
		t.Fatalf("cost optimization should pick the cheapest registered provider, got %s", got)
	}
	if got := f.router.selectProvider(Request{}, Critical); got != provider.Anthropic {
		t.Fatalf("critical complexity must override cost optimization, got %s", got)
	}
}

func TestNew_RejectsUnregisteredProviders(t *testing.T) {
	f := newFixture(t, Config{PrimaryProvider: provider.Anthropic})

	reg, err := provider.NewRegistry(provider.NewMockInvoker(provider.Anthropic))
	if err != nil {
		t.Fatal(err)
	}
	_, err = New(reg, f.breakers, f.cache, Config{
		PrimaryProvider:   provider.Anthropic,
		FallbackProviders: []provider.ID{provider.VLLM},
	}, nil)
	if err == nil {
		t.Fatal("config referencing an unregistered provider must be rejected")
	}
}
