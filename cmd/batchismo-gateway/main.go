// Package main is the Batchismo gateway: the long-running process that
// owns the per-user data root, the Store, the EventBus, and the
// CommandSurface (spec.md §2/§6). It is grounded on the teacher's
// cmd/nexus root-command/serve-subcommand CLI shape (buildRootCmd +
// buildServeCmd, config-path resolution, signal.NotifyContext-driven
// graceful shutdown), replacing the teacher's channel adapters/gRPC/HTTP
// surfaces with the initialization order spec.md §9 names: Store ->
// EventBus -> ProcessSupervisor -> SessionManager -> CommandSurface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/batchismo/core/internal/config"
	"github.com/batchismo/core/internal/eventbus"
	"github.com/batchismo/core/internal/gateway"
	"github.com/batchismo/core/internal/session"
	"github.com/batchismo/core/internal/store"
	"github.com/batchismo/core/internal/supervisor"
	"github.com/batchismo/core/internal/telemetry"
	"github.com/batchismo/core/internal/worker"
	"github.com/batchismo/core/internal/workspace"
)

// Version is set at build time.
var Version = "dev"

func defaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".batchismo"
	}
	return filepath.Join(home, ".batchismo")
}

func main() {
	var dataRoot string
	var agentBinary string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:     "batchismo-gateway",
		Short:   "Batchismo agent runtime core",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVar(&dataRoot, "data-root", defaultDataRoot(), "per-user data root (config, store, workspace, ipc sockets)")
	rootCmd.PersistentFlags().StringVar(&agentBinary, "agent-binary", "batchismo-agent", "path to the per-turn agent binary (resolved next to this executable if relative)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override gateway.log_level from config")

	rootCmd.AddCommand(buildServeCmd(&dataRoot, &agentBinary, &logLevel))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildServeCmd(dataRoot, agentBinary, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway (CommandSurface + per-turn agent supervision)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *dataRoot, *agentBinary, *logLevel)
		},
	}
}

// runServe wires every collaborator in the order spec.md §9 names and
// blocks until a shutdown signal, then drains in-flight turns.
func runServe(ctx context.Context, dataRoot, agentBinary, logLevelOverride string) error {
	configPath := filepath.Join(dataRoot, "config.yaml")
	cfg, err := loadOrInitConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := slog.LevelInfo
	switch logLevelOverride {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	case "":
		switch cfg.Gateway.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting batchismo-gateway", "version", Version, "data_root", dataRoot)

	// Store
	st, err := store.Open(filepath.Join(dataRoot, "store.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// Workspace
	ws, err := workspace.Open(filepath.Join(dataRoot, "workspace"), logger)
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := ws.Watch(watchCtx, 0); err != nil {
		logger.Warn("workspace watch disabled", "error", err)
	}
	defer ws.Close()

	// EventBus
	bus := eventbus.New(logger)

	// Telemetry (audit spans/metrics consumed by the out-of-core UI)
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	tracer, shutdownTracer := telemetry.NewTracer("batchismo-gateway")
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	// ProcessSupervisor
	sup, err := supervisor.New(supervisor.Config{
		AgentBinaryPath: agentBinary,
		DataRoot:        dataRoot,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}

	// Worker registry (in-memory cache over Store's SubagentInfo rows)
	reg, err := worker.New(ctx, st)
	if err != nil {
		return fmt.Errorf("build worker registry: %w", err)
	}

	// SessionManager
	mgr := session.New(session.Config{
		Store:                  st,
		Bus:                    bus,
		Supervisor:             sup,
		Registry:               reg,
		MaxConcurrentSubagents: cfg.Sandbox.MaxConcurrentSubagents,
		Logger:                 logger,
		Tracer:                 tracer,
		Metrics:                metrics,
		Workspace:              ws,
	})

	if err := ensureMainSession(ctx, st, cfg); err != nil {
		return fmt.Errorf("ensure main session: %w", err)
	}

	// CommandSurface. gw has no front end wired into serve yet (no RPC
	// listener is specified for this core); a future front end would take
	// gw and dispatch directly to its typed methods.
	gw := gateway.New(st, bus, mgr, reg, cfg, configPath)
	_ = gw

	logger.Info("batchismo-gateway ready", "data_root", dataRoot)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("shutdown signal received, draining in-flight turns")
	sup.Shutdown("gateway shutting down")
	logger.Info("batchismo-gateway stopped")
	return nil
}

func loadOrInitConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.Default()
		if err := config.Save(cfg, path); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

func ensureMainSession(ctx context.Context, st store.Store, cfg *config.Config) error {
	if _, err := st.GetSessionByKey(ctx, "main"); err == nil {
		return nil
	} else if err != store.ErrNotFound {
		return err
	}
	_, err := st.CreateSession(ctx, "main", cfg.Agent.Model)
	return err
}
