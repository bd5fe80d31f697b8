package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zen-systems/medgate/pkg/availability"
	"github.com/zen-systems/medgate/pkg/breaker"
	"github.com/zen-systems/medgate/pkg/config"
	"github.com/zen-systems/medgate/pkg/consensus"
	"github.com/zen-systems/medgate/pkg/observability"
	"github.com/zen-systems/medgate/pkg/provider"
	"github.com/zen-systems/medgate/pkg/router"
	"github.com/zen-systems/medgate/pkg/server"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "medgate",
		Short: "Resilient AI routing gateway with consensus verification for clinical decisions",
		Long: `Medgate routes text-generation requests to interchangeable AI backends,
protects callers with per-provider circuit breakers and bounded retries,
and cross-checks safety-critical clinical answers against independent
verifiers before they reach a human.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to routing config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the fully initialized core. Construction is the explicit
// start-up step: registry, breakers, and cache exist before any traffic.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	registry *provider.Registry
	breakers *breaker.Registry
	cache    *availability.Cache
	store    availability.Store
	router   *router.Router
	engine   *consensus.Engine
}

func newApp(persistent bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	breakers := breaker.NewRegistry(registry.IDs(), cfg.Routing.BreakerSettings())

	var store availability.Store
	if persistent {
		badgerStore, err := availability.OpenBadgerStore(cfg.StorePath)
		if err != nil {
			// Routing still works on the in-process view alone.
			logger.Warn("availability store unavailable, running with in-process cache only", zap.Error(err))
		} else {
			store = badgerStore
		}
	}
	cache := availability.NewCache(store, cfg.Routing.AvailabilityOptions(), logger)

	// Pre-warm the cache so the first requests route on known state.
	for _, rec := range cache.Snapshot(context.Background(), registry.IDs()) {
		logger.Debug("availability cache warmed",
			zap.String("provider", string(rec.Provider)),
			zap.String("state", rec.CircuitState))
	}

	rt, err := router.New(registry, breakers, cache, cfg.Routing.RouterConfig(), logger, router.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}

	verifiers := []consensus.Verifier{
		consensus.NewSecondaryModelVerifier(rt, cfg.Routing.VerifierProviders()),
		consensus.NewRuleVerifier(cfg.Routing.Consensus.SafetyPatterns),
		consensus.NewHistoricalVerifier(),
	}
	engine := consensus.NewEngine(
		verifiers,
		&logReviewQueue{logger: logger},
		consensus.Thresholds{
			Low:    cfg.Routing.Consensus.LowThreshold,
			Medium: cfg.Routing.Consensus.MediumThreshold,
		},
		cfg.Routing.SafetyCriticalTasks(),
		logger,
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		registry: registry,
		breakers: breakers,
		cache:    cache,
		store:    store,
		router:   rt,
		engine:   engine,
	}, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing availability store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadWithRoutingFile(configFile)
	}
	return config.Load()
}

// buildRegistry creates invokers for every configured provider.
func buildRegistry(cfg *config.Config, logger *zap.Logger) (*provider.Registry, error) {
	var invokers []provider.Invoker

	if cfg.AnthropicAPIKey != "" {
		inv, err := provider.NewAnthropicInvoker(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, err
		}
		invokers = append(invokers, inv)
	}
	if cfg.OpenAIAPIKey != "" {
		inv, err := provider.NewOpenAIInvoker(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, err
		}
		invokers = append(invokers, inv)
	}
	if cfg.GoogleAPIKey != "" {
		inv, err := provider.NewGoogleInvoker(cfg.GoogleAPIKey)
		if err != nil {
			return nil, err
		}
		invokers = append(invokers, inv)
	}
	if cfg.DeepSeekAPIKey != "" {
		inv, err := provider.NewDeepSeekInvoker(cfg.DeepSeekAPIKey)
		if err != nil {
			return nil, err
		}
		invokers = append(invokers, inv)
	}
	invokers = append(invokers, provider.NewOllamaInvoker(cfg.OllamaBaseURL, cfg.OllamaModel))
	if cfg.VLLMBaseURL != "" {
		inv, err := provider.NewVLLMInvoker(cfg.VLLMBaseURL, cfg.VLLMModel)
		if err != nil {
			return nil, err
		}
		invokers = append(invokers, inv)
	}

	registry, err := provider.NewRegistry(invokers...)
	if err != nil {
		return nil, err
	}
	logger.Info("provider registry built", zap.Int("providers", len(registry.IDs())))
	return registry, nil
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the routing and verification HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			if addr == "" {
				addr = a.cfg.ListenAddr
			}

			srv := &http.Server{
				Addr: addr,
				Handler: server.New(
					a.router, a.engine, a.breakers, a.cache, a.registry, a.metrics, a.logger,
				).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("medgate listening", zap.String("addr", addr))
				errCh <- srv.ListenAndServe()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				a.logger.Info("shutting down", zap.String("signal", sig.String()))
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func routeCmd() *cobra.Command {
	var task string
	var providerFlag string

	cmd := &cobra.Command{
		Use:   "route [prompt]",
		Short: "Route a single prompt and print the annotated result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			req := router.Request{
				Messages: []provider.Message{{Role: "user", Content: args[0]}},
				TaskType: task,
			}
			if providerFlag != "" {
				id, ok := provider.Parse(providerFlag)
				if !ok {
					return fmt.Errorf("unknown provider %q", providerFlag)
				}
				req.Provider = id
			}

			res, err := a.router.Route(cmd.Context(), req)
			if err != nil {
				return err
			}

			fmt.Printf("provider:     %s\n", res.Provider)
			fmt.Printf("model:        %s\n", res.Model)
			fmt.Printf("complexity:   %s\n", res.Complexity)
			fmt.Printf("usedFallback: %t\n", res.UsedFallback)
			fmt.Printf("latency:      %s\n\n", res.Latency)
			fmt.Println(res.Content)
			return nil
		},
	}

	cmd.Flags().StringVar(&task, "task", "", "task type (e.g. diagnosis, summarization)")
	cmd.Flags().StringVar(&providerFlag, "provider", "", "explicit provider override")
	return cmd
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Print the breaker and availability snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			snapshot := map[string]any{
				"breakers":     a.breakers.Snapshot(),
				"availability": a.cache.Snapshot(cmd.Context(), a.registry.IDs()),
			}
			encoded, err := json.MarshalIndent(snapshot, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the routing configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Routing.Validate(); err != nil {
				return err
			}
			fmt.Printf("configuration valid: primary=%s fallbacks=%v tasks=%d\n",
				cfg.Routing.PrimaryProvider,
				cfg.Routing.FallbackProviders,
				len(cfg.Routing.Tasks))
			return nil
		},
	}
}

// logReviewQueue stands in for the external human-review collaborator
// when none is wired: escalations are logged with a reference id so a
// human can still follow up.
type logReviewQueue struct {
	logger *zap.Logger
}

func (q *logReviewQueue) Enqueue(_ context.Context, esc consensus.Escalation) (string, error) {
	queueID := uuid.NewString()
	q.logger.Warn("escalation queued for human review",
		zap.String("queue_id", queueID),
		zap.String("escalation_id", esc.ID),
		zap.String("reason", esc.Reason),
		zap.Float64("confidence", esc.Confidence),
	)
	return queueID, nil
}
