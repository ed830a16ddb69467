// Package main is the entry point for the txguard binary.
// It serves the policy and typed-data API and offers offline checks.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rojo-labs/txguard/internal/governance"
	"github.com/rojo-labs/txguard/pkg/api"
	"github.com/rojo-labs/txguard/pkg/config"
	"github.com/rojo-labs/txguard/pkg/eip712"
	"github.com/rojo-labs/txguard/pkg/logging"
	"github.com/rojo-labs/txguard/pkg/policy"
	"github.com/rojo-labs/txguard/pkg/preflight"
	"github.com/rojo-labs/txguard/pkg/storage"
	"github.com/rojo-labs/txguard/pkg/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for txguard
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "txguard",
		Short: "Transaction policy gate and EIP-712 inspector",
		Long: `txguard decides whether a wallet transaction is allowed by a named policy
and grades EIP-712 typed-data signing requests for phishing risk.

Example:
  txguard serve --config txguard.yaml
  txguard evaluate --policy default tx.json
  txguard inspect permit.json`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd(), newEvaluateCmd(), newInspectCmd())
	return rootCmd
}

// loadConfig loads the file named by --config and applies the log level flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if level != "" {
		cfg.Logging.Level = level
		if err := cfg.Logging.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// app bundles the wired components.
type app struct {
	store     *policy.Store
	trust     *storage.TrustRegistry
	evaluator *policy.Evaluator
	inspector *eip712.Inspector
	validator *preflight.Validator
	limiter   *governance.RateLimiter
	metrics   *api.Metrics
	server    *api.Server
}

// buildApp wires every component from the configuration.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store := policy.NewStore(storage.NewMemoryPolicyStore(), logger)
	trust := storage.NewTrustRegistry()
	evaluator := policy.NewEvaluator(store, policy.WithLogger(logger))

	heuristics, err := eip712.DefaultHeuristics().Extend(cfg.Heuristics.Extensions())
	if err != nil {
		return nil, fmt.Errorf("heuristics: %w", err)
	}
	inspector := eip712.NewInspector(trust,
		eip712.WithHeuristics(heuristics),
		eip712.WithLogger(logger),
	)

	engineOpts := preflight.EngineOptions{
		Entrypoint:      cfg.Preflight.Entrypoint,
		CacheMaxEntries: cfg.Preflight.CacheSize,
		Logger:          logger,
	}
	if cfg.Preflight.ModuleFile != "" {
		// #nosec G304 -- Module path is configured by the operator
		module, err := os.ReadFile(cfg.Preflight.ModuleFile)
		if err != nil {
			return nil, fmt.Errorf("read preflight module: %w", err)
		}
		engineOpts.Modules = map[string]string{cfg.Preflight.ModuleFile: string(module)}
	}
	engine, err := preflight.NewEngine(ctx, engineOpts)
	if err != nil {
		return nil, fmt.Errorf("preflight engine: %w", err)
	}
	validator := preflight.NewValidator(evaluator, engine, logger)

	limiter := governance.NewRateLimiter(cfg.RateLimits)
	metrics := api.NewMetrics()
	server := api.NewServer(api.Options{
		Policies:  store,
		Evaluator: evaluator,
		Trust:     trust,
		Inspector: inspector,
		Validator: validator,
		Limiter:   limiter,
		Metrics:   metrics,
		Logger:    logger,
	})

	return &app{
		store:     store,
		trust:     trust,
		evaluator: evaluator,
		inspector: inspector,
		validator: validator,
		limiter:   limiter,
		metrics:   metrics,
		server:    server,
	}, nil
}

// applySeedFile loads a registry seed file into the app once.
func (a *app) applySeedFile(path string) error {
	if path == "" {
		return nil
	}
	seed, err := config.LoadRegistrySeed(path)
	if err != nil {
		return err
	}
	return seed.Apply(a.store, a.trust)
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringP("address", "a", "", "Listen address override (e.g. :8080)")
	return cmd
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if address, _ := cmd.Flags().GetString("address"); address != "" {
		cfg.Server.Address = address
	}

	logger := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Headers:     cfg.Telemetry.Headers,
	})
	if err != nil {
		logger.Error("Failed to initialise telemetry", "error", err)
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to build service", "error", err)
		return err
	}

	if cfg.Registry.File != "" {
		watcher, err := config.NewRegistryWatcher(cfg.Registry.File, logger)
		if err != nil {
			logger.Error("Failed to watch registry file", "path", cfg.Registry.File, "error", err)
			return err
		}
		defer watcher.Close()
		// Seeded policies must be in place before the first request is served.
		watcher.ApplyUpdates(ctx, a.store, a.trust, func(err error) {
			status := "success"
			if err != nil {
				status = "partial"
			}
			a.metrics.RecordRegistryReload(status)
			a.metrics.SetTrustedContracts(len(a.trust.List()))
		})
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      a.server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting txguard", "address", cfg.Server.Address, "log_level", cfg.Logging.Level)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			return err
		}
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", "error", err)
		}
	}

	logger.Info("txguard stopped")
	return nil
}
