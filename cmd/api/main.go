package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/melih/lighthouse-console/internal/adapters/docker"
	"github.com/melih/lighthouse-console/internal/adapters/hostinfo"
	httpadapter "github.com/melih/lighthouse-console/internal/adapters/http"
	"github.com/melih/lighthouse-console/internal/adapters/postgres"
	"github.com/melih/lighthouse-console/internal/adapters/realtime"
	"github.com/melih/lighthouse-console/internal/config"
	"github.com/melih/lighthouse-console/internal/core/services/gateway"
	"github.com/melih/lighthouse-console/internal/core/services/hub"
	"github.com/melih/lighthouse-console/internal/core/services/sampler"
	"github.com/melih/lighthouse-console/internal/core/services/terminal"
	"github.com/melih/lighthouse-console/internal/logging"
	"github.com/melih/lighthouse-console/internal/telemetry"
)

type flags struct {
	configPath   string
	addr         string
	realtimeAddr string
	logLevel     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:          "lighthouse-console",
		Short:        "Container engine control plane",
		Long:         `Serves container operations, interactive terminals and live host metrics over REST and WebSocket.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", config.GetEnvOrDefault("LIGHTHOUSE_CONFIG", ""), "path to the YAML config file")
	cmd.Flags().StringVar(&f.addr, "addr", "", "REST listen address")
	cmd.Flags().StringVar(&f.realtimeAddr, "realtime-addr", "", "WebSocket listen address")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	return cmd
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)

	if cmd.Flags().Changed("addr") {
		cfg.Server.Address = f.addr
	}
	if cmd.Flags().Changed("realtime-addr") {
		cfg.Server.RealtimeAddress = f.realtimeAddr
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Server.LogLevel = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics := telemetry.New()

	// 1. Initialize Adapters (Infrastructure)
	dockerAdapter, err := docker.NewAdapter(cfg.Engine, logger)
	if err != nil {
		logger.Error("failed to initialize docker adapter", zap.Error(err))
		return err
	}
	defer dockerAdapter.Close()

	probe, err := hostinfo.NewProbe(cfg.Metrics.ProcPath, cfg.Metrics.DiskPath, nil)
	if err != nil {
		logger.Error("failed to initialize host probe", zap.Error(err))
		return err
	}

	// 2. Core services
	gw := gateway.New(dockerAdapter, cfg.Cache.TTL, logger, metrics)
	if err := gw.TestConnection(ctx); err != nil {
		logger.Warn("container engine not reachable at startup", zap.Error(err))
	}

	broadcastHub := hub.New(logger, metrics)

	var samplerOpts []sampler.Option
	if cfg.Store.Enabled() {
		store, err := openStore(ctx, cfg.Store.DSN, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		samplerOpts = append(samplerOpts, sampler.WithStore(store))
	}
	metricsSampler := sampler.New(sampler.Config{
		Interval:         cfg.Metrics.Interval,
		Retention:        cfg.Metrics.Retention,
		ContainerMetrics: cfg.Metrics.ContainerMetrics,
		Thresholds:       cfg.Metrics.Thresholds,
	}, probe, gw, broadcastHub, logger, metrics, samplerOpts...)
	if cfg.Store.Enabled() {
		if err := metricsSampler.Warm(ctx); err != nil {
			logger.Warn("failed to preload metric history", zap.Error(err))
		}
	}
	broadcastHub.UseStatusSource(metricsSampler)

	bridge := terminal.NewBridge(dockerAdapter, terminal.BridgeConfig{Shell: cfg.Terminal.Shell}, logger)
	registry := terminal.NewRegistry(bridge, terminal.Config{
		IdleTimeout:    cfg.Terminal.IdleTimeout,
		MaxSessions:    cfg.Terminal.MaxSessions,
		CommandTimeout: cfg.Terminal.CommandTimeout,
	}, logger, metrics)

	// 3. Interface adapters
	app := httpadapter.NewApp(httpadapter.Handlers{
		Containers: httpadapter.NewContainerHandler(gw, metricsSampler),
		Terminal:   httpadapter.NewTerminalHandler(registry, gw),
		System:     httpadapter.NewSystemHandler(metricsSampler, gw),
	}, metrics, logger)

	realtimeServer := &http.Server{
		Addr:              cfg.Server.RealtimeAddress,
		Handler:           realtime.NewServer(registry, broadcastHub, metricsSampler, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 4. Start everything
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		gw.Run(gctx)
		return nil
	})
	g.Go(func() error {
		registry.Run(gctx, cfg.Terminal.ReapInterval)
		return nil
	})
	g.Go(func() error {
		metricsSampler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("REST server starting", zap.String("addr", cfg.Server.Address))
		if err := app.Listen(cfg.Server.Address); err != nil {
			return fmt.Errorf("rest server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("realtime server starting", zap.String("addr", cfg.Server.RealtimeAddress))
		if err := realtimeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("realtime server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		registry.CloseAll()
		if err := realtimeServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("realtime server shutdown failed", zap.Error(err))
		}
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("rest server shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, dsn string, logger *zap.Logger) (*postgres.Store, error) {
	store, err := postgres.Open(dsn, logger)
	if err != nil {
		return nil, err
	}
	if err := store.CreateTables(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to prepare metrics store: %w", err)
	}
	return store, nil
}
