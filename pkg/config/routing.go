package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/medgate/pkg/availability"
	"github.com/zen-systems/medgate/pkg/breaker"
	"github.com/zen-systems/medgate/pkg/provider"
	"github.com/zen-systems/medgate/pkg/retry"
	"github.com/zen-systems/medgate/pkg/router"
)

// RoutingConfig holds the routing, resilience, and verification policy.
type RoutingConfig struct {
	PrimaryProvider     string                   `yaml:"primary_provider"`
	FallbackProviders   []string                 `yaml:"fallback_providers"`
	PreferCheapest      bool                     `yaml:"prefer_cheapest,omitempty"`
	ComplexityProviders map[string]string        `yaml:"complexity_providers,omitempty"`
	Tasks               map[string]TaskRoute     `yaml:"tasks,omitempty"`
	Breakers            map[string]BreakerConfig `yaml:"breakers,omitempty"`
	Retry               map[string]RetryConfig   `yaml:"retry,omitempty"`
	Availability        AvailabilityConfig       `yaml:"availability,omitempty"`
	Consensus           ConsensusConfig          `yaml:"consensus,omitempty"`
}

// TaskRoute binds a task type to a provider. Safety-critical tasks
// always require consensus verification.
type TaskRoute struct {
	Provider       string `yaml:"provider"`
	SafetyCritical bool   `yaml:"safety_critical,omitempty"`
}

// BreakerConfig tunes one provider's circuit breaker.
type BreakerConfig struct {
	FailureThreshold  int `yaml:"failure_threshold,omitempty"`
	SuccessThreshold  int `yaml:"success_threshold,omitempty"`
	RecoveryTimeoutMs int `yaml:"recovery_timeout_ms,omitempty"`
	CallTimeoutMs     int `yaml:"call_timeout_ms,omitempty"`
}

// RetryConfig assigns a retry profile, or explicit values, per provider.
type RetryConfig struct {
	// Profile is one of "cloud", "local", "critical", "none". Explicit
	// fields below override the profile's values when set.
	Profile     string `yaml:"profile,omitempty"`
	MaxAttempts int    `yaml:"max_attempts,omitempty"`
	BaseDelayMs int    `yaml:"base_delay_ms,omitempty"`
	MaxDelayMs  int    `yaml:"max_delay_ms,omitempty"`
}

// AvailabilityConfig tunes the shared health cache.
type AvailabilityConfig struct {
	TTLSeconds          int `yaml:"ttl_seconds,omitempty"`
	ResetTimeoutSeconds int `yaml:"reset_timeout_seconds,omitempty"`
	FailureThreshold    int `yaml:"failure_threshold,omitempty"`
	SuccessThreshold    int `yaml:"success_threshold,omitempty"`
}

// ConsensusConfig tunes the verification engine.
type ConsensusConfig struct {
	LowThreshold      float64  `yaml:"low_threshold,omitempty"`
	MediumThreshold   float64  `yaml:"medium_threshold,omitempty"`
	VerifierProviders []string `yaml:"verifier_providers,omitempty"`
	SafetyPatterns    []string `yaml:"safety_patterns,omitempty"`
}

// LoadRoutingConfig reads routing configuration from a YAML file.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg RoutingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyRoutingDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultRoutingConfig returns the default clinical routing policy:
// safety-critical tasks go to the highest-accuracy backend, commodity
// high-volume tasks to the cheapest, and complexity picks for the rest.
func DefaultRoutingConfig() *RoutingConfig {
	cfg := &RoutingConfig{
		PrimaryProvider:   "anthropic",
		FallbackProviders: []string{"openai", "google", "ollama"},
		ComplexityProviders: map[string]string{
			"simple":   "ollama",
			"moderate": "google",
			"complex":  "openai",
			"critical": "anthropic",
		},
		Tasks: map[string]TaskRoute{
			"diagnosis":         {Provider: "anthropic", SafetyCritical: true},
			"prescription":      {Provider: "anthropic", SafetyCritical: true},
			"dosage":            {Provider: "anthropic", SafetyCritical: true},
			"triage":            {Provider: "anthropic", SafetyCritical: true},
			"drug_interaction":  {Provider: "anthropic", SafetyCritical: true},
			"general":           {Provider: "ollama"},
			"summarization":     {Provider: "ollama"},
			"documentation":     {Provider: "deepseek"},
			"scheduling":        {Provider: "deepseek"},
			"patient_education": {Provider: "google"},
		},
		Consensus: ConsensusConfig{
			VerifierProviders: []string{"google", "openai", "anthropic"},
		},
	}
	applyRoutingDefaults(cfg)
	return cfg
}

func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg == nil {
		return
	}
	if cfg.PrimaryProvider == "" {
		cfg.PrimaryProvider = "anthropic"
	}
	if cfg.Availability.TTLSeconds == 0 {
		cfg.Availability.TTLSeconds = 300
	}
	if cfg.Availability.ResetTimeoutSeconds == 0 {
		cfg.Availability.ResetTimeoutSeconds = 30
	}
	if cfg.Availability.FailureThreshold == 0 {
		cfg.Availability.FailureThreshold = 5
	}
	if cfg.Availability.SuccessThreshold == 0 {
		cfg.Availability.SuccessThreshold = 2
	}
	if cfg.Consensus.LowThreshold == 0 {
		cfg.Consensus.LowThreshold = 0.50
	}
	if cfg.Consensus.MediumThreshold == 0 {
		cfg.Consensus.MediumThreshold = 0.70
	}
	if len(cfg.Consensus.VerifierProviders) == 0 {
		cfg.Consensus.VerifierProviders = []string{"google", "openai", "anthropic"}
	}
}

// Validate rejects unknown provider identifiers and inconsistent
// thresholds up front, so misconfiguration fails at start-up rather than
// at call time.
func (c *RoutingConfig) Validate() error {
	if _, ok := provider.Parse(c.PrimaryProvider); !ok {
		return fmt.Errorf("primary_provider: unknown provider %q", c.PrimaryProvider)
	}
	for _, name := range c.FallbackProviders {
		if _, ok := provider.Parse(name); !ok {
			return fmt.Errorf("fallback_providers: unknown provider %q", name)
		}
	}
	for complexity, name := range c.ComplexityProviders {
		switch router.Complexity(complexity) {
		case router.Simple, router.Moderate, router.Complex, router.Critical:
		default:
			return fmt.Errorf("complexity_providers: unknown complexity %q", complexity)
		}
		if _, ok := provider.Parse(name); !ok {
			return fmt.Errorf("complexity_providers[%s]: unknown provider %q", complexity, name)
		}
	}
	for task, route := range c.Tasks {
		if _, ok := provider.Parse(route.Provider); !ok {
			return fmt.Errorf("tasks[%s]: unknown provider %q", task, route.Provider)
		}
	}
	for name := range c.Breakers {
		if _, ok := provider.Parse(name); !ok {
			return fmt.Errorf("breakers: unknown provider %q", name)
		}
	}
	for name, rc := range c.Retry {
		if _, ok := provider.Parse(name); !ok {
			return fmt.Errorf("retry: unknown provider %q", name)
		}
		switch rc.Profile {
		case "", "cloud", "local", "critical", "none":
		default:
			return fmt.Errorf("retry[%s]: unknown profile %q", name, rc.Profile)
		}
	}
	for _, name := range c.Consensus.VerifierProviders {
		if _, ok := provider.Parse(name); !ok {
			return fmt.Errorf("consensus.verifier_providers: unknown provider %q", name)
		}
	}
	if c.Consensus.LowThreshold < 0 || c.Consensus.LowThreshold > 1 {
		return fmt.Errorf("consensus.low_threshold must be in [0,1]")
	}
	if c.Consensus.MediumThreshold < c.Consensus.LowThreshold {
		return fmt.Errorf("consensus.medium_threshold must be >= low_threshold")
	}
	return nil
}

// RouterConfig converts the YAML policy into the router's typed config.
func (c *RoutingConfig) RouterConfig() router.Config {
	out := router.Config{
		PrimaryProvider:     provider.ID(c.PrimaryProvider),
		PreferCheapest:      c.PreferCheapest,
		ComplexityProviders: make(map[router.Complexity]provider.ID, len(c.ComplexityProviders)),
		TaskProviders:       make(map[string]provider.ID, len(c.Tasks)),
		RetryPolicies:       make(map[provider.ID]retry.Policy, len(c.Retry)),
	}
	for _, name := range c.FallbackProviders {
		out.FallbackProviders = append(out.FallbackProviders, provider.ID(name))
	}
	for complexity, name := range c.ComplexityProviders {
		out.ComplexityProviders[router.Complexity(complexity)] = provider.ID(name)
	}
	for task, route := range c.Tasks {
		out.TaskProviders[task] = provider.ID(route.Provider)
	}
	for name, rc := range c.Retry {
		out.RetryPolicies[provider.ID(name)] = rc.policy(provider.ID(name))
	}
	return out
}

func (rc RetryConfig) policy(id provider.ID) retry.Policy {
	var p retry.Policy
	switch rc.Profile {
	case "local":
		p = retry.LocalPolicy(provider.IsTransient)
	case "critical":
		p = retry.CriticalPolicy(provider.IsTransient)
	case "none":
		p = retry.NoRetry()
	case "cloud":
		p = retry.CloudPolicy(provider.IsTransient)
	default:
		if id.Local() {
			p = retry.LocalPolicy(provider.IsTransient)
		} else {
			p = retry.CloudPolicy(provider.IsTransient)
		}
	}
	if rc.MaxAttempts > 0 {
		p.MaxAttempts = rc.MaxAttempts
	}
	if rc.BaseDelayMs > 0 {
		p.BaseDelay = time.Duration(rc.BaseDelayMs) * time.Millisecond
	}
	if rc.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(rc.MaxDelayMs) * time.Millisecond
	}
	return p
}

// BreakerSettings converts per-provider breaker tuning.
func (c *RoutingConfig) BreakerSettings() map[provider.ID]breaker.Settings {
	out := make(map[provider.ID]breaker.Settings, len(c.Breakers))
	for name, bc := range c.Breakers {
		id := provider.ID(name)
		base := breaker.CloudSettings()
		if id.Local() {
			base = breaker.LocalSettings()
		}
		if bc.FailureThreshold > 0 {
			base.FailureThreshold = bc.FailureThreshold
		}
		if bc.SuccessThreshold > 0 {
			base.SuccessThreshold = bc.SuccessThreshold
		}
		if bc.RecoveryTimeoutMs > 0 {
			base.RecoveryTimeout = time.Duration(bc.RecoveryTimeoutMs) * time.Millisecond
		}
		if bc.CallTimeoutMs > 0 {
			base.CallTimeout = time.Duration(bc.CallTimeoutMs) * time.Millisecond
		}
		out[id] = base
	}
	return out
}

// AvailabilityOptions converts the health-cache tuning.
func (c *RoutingConfig) AvailabilityOptions() availability.Options {
	return availability.Options{
		TTL:              time.Duration(c.Availability.TTLSeconds) * time.Second,
		ResetTimeout:     time.Duration(c.Availability.ResetTimeoutSeconds) * time.Second,
		FailureThreshold: c.Availability.FailureThreshold,
		SuccessThreshold: c.Availability.SuccessThreshold,
	}
}

// SafetyCriticalTasks lists the task types for which verification is
// mandatory.
func (c *RoutingConfig) SafetyCriticalTasks() []string {
	var out []string
	for task, route := range c.Tasks {
		if route.SafetyCritical {
			out = append(out, task)
		}
	}
	return out
}

// VerifierProviders parses the verification backend preference order.
func (c *RoutingConfig) VerifierProviders() []provider.ID {
	out := make([]provider.ID, 0, len(c.Consensus.VerifierProviders))
	for _, name := range c.Consensus.VerifierProviders {
		out = append(out, provider.ID(name))
	}
	return out
}
