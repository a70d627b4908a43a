package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/relayhq/relay/internal/agent"
	"github.com/relayhq/relay/internal/agent/providers"
	"github.com/relayhq/relay/internal/config"
	"github.com/relayhq/relay/internal/httpapi"
	"github.com/relayhq/relay/internal/observability"
	"github.com/relayhq/relay/internal/prompt"
	"github.com/relayhq/relay/internal/sessions"
	"github.com/relayhq/relay/internal/tools/calc"
	"github.com/relayhq/relay/internal/tools/clock"
	"github.com/relayhq/relay/internal/tools/openapi"
	"github.com/relayhq/relay/internal/usage"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "relay.yaml", "Path to configuration file")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	metrics := observability.NewMetrics()

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	registry := agent.NewRegistry()
	if cfg.Tools.Builtins {
		registry.Register(clock.New())
		registry.Register(calc.New())
	}
	if err := registerOpenAPITools(registry, cfg.Tools.OpenAPI, logger); err != nil {
		return err
	}

	tracker := usage.NewTracker(cfg.RateLimits.Window)
	var limiter *usage.Limiter
	if cfg.RateLimits.Default > 0 || len(cfg.RateLimits.PerModel) > 0 {
		limiter = usage.NewLimiter(tracker, usage.Limits{
			Default:  cfg.RateLimits.Default,
			PerModel: cfg.RateLimits.PerModel,
		}, logger, metrics)
	}

	store := sessions.NewMemoryStore()

	orchestrator := agent.NewOrchestrator(provider, registry, store, agent.Config{
		MaxRoundTrips:    cfg.Loop.MaxRoundTrips,
		MaxTokens:        cfg.Loop.MaxTokens,
		RetrievalTimeout: cfg.Loop.RetrievalTimeout,
		RetrievalLimit:   cfg.Loop.RetrievalLimit,
		ToolTimeout:      cfg.Loop.ToolTimeout,
		Budget: prompt.Budget{
			MaxTokens:       cfg.Prompt.MaxTokens,
			MaxHistoryItems: cfg.Prompt.MaxHistoryItems,
			MaxChunks:       cfg.Prompt.MaxChunks,
			TrimRatio:       cfg.Prompt.TrimRatio,
		},
	}, agent.Options{
		Limiter:  limiter,
		Recorder: tracker,
		Metrics:  metrics,
		Logger:   logger,
	})

	mux := http.NewServeMux()
	httpapi.NewChatHandler(orchestrator, cfg.LLM.DefaultModel, logger).RegisterRoutes(mux)

	apiServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("api server listening", "addr", apiServer.Addr, "provider", provider.Name())
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
	return nil
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func buildProvider(cfg *config.Config) (agent.Provider, error) {
	pc := cfg.LLM.Providers[cfg.LLM.DefaultProvider]

	switch cfg.LLM.DefaultProvider {
	case "openai":
		return providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:            pc.APIKey,
			BaseURL:           pc.BaseURL,
			RequestsPerSecond: pc.RequestsPerSecond,
		})
	case "anthropic":
		return providers.NewAnthropic(providers.AnthropicConfig{
			APIKey:            pc.APIKey,
			BaseURL:           pc.BaseURL,
			RequestsPerSecond: pc.RequestsPerSecond,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.LLM.DefaultProvider)
	}
}

// registerOpenAPITools loads each configured OpenAPI document and registers
// its operations as remote tools.
func registerOpenAPITools(registry *agent.Registry, sources []config.OpenAPISourceConfig, logger *slog.Logger) error {
	for _, src := range sources {
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return fmt.Errorf("read openapi document %s: %w", src.Path, err)
		}
		ops, err := openapi.ParseDocument(data, src.BaseURL)
		if err != nil {
			return err
		}

		timeout := src.Timeout
		if timeout <= 0 {
			timeout = openapi.DefaultTimeout
		}
		client := &http.Client{Timeout: timeout}

		for _, op := range ops {
			tool, err := openapi.NewRemoteTool(op, client)
			if err != nil {
				return err
			}
			registry.Register(tool)
			logger.Info("registered remote tool",
				"tool", op.Name,
				"method", op.Method,
				"url", op.URL)
		}
	}
	return nil
}
