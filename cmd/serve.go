package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw-scheduler/internal/audit"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/bootstrap"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/clock"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/config"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/controlrpc"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/dispatcher"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/store/sqlstore"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/telemetry"
	"github.com/nextlevelbuilder/goclaw-scheduler/internal/tickloop"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler: tick loop plus control-plane MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := config.Load()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer shutdownTelemetry(context.Background())

	st, err := sqlstore.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := bootstrap.SeedIfEmpty(ctx, st, cfg); err != nil {
		slog.Warn("bootstrap seed failed", "error", err)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build backend registry: %w", err)
	}

	disp := dispatcher.New(registry)
	defer disp.Close()

	if cfg.BackendsFile != "" {
		watcher, err := config.NewWatcher(cfg.BackendsFile)
		if err != nil {
			slog.Warn("backends file watcher disabled", "error", err)
		} else {
			watcher.OnChange(func(overrides []store.BackendSpec) {
				registry.Replace(config.MergeBackends(config.BuiltinBackends(), overrides))
			})
			if err := watcher.Start(); err != nil {
				slog.Warn("backends file watcher failed to start", "error", err)
			} else {
				defer watcher.Stop()
			}
		}
	}

	cache, err := audit.NewCache(cfg.RedisURL)
	if err != nil {
		slog.Warn("audit cache disabled", "error", err)
		cache = nil
	}
	if cache != nil {
		defer cache.Close()
	}

	interceptor := audit.NewInterceptor(st, cache)
	stats := audit.NewStats(st, cache)

	loop := tickloop.New(clock.Real{}, st, disp, interceptor, tickloop.Config{
		TickInterval:   cfg.TickInterval,
		MaxJobsPerTick: cfg.MaxJobsPerTick,
		ClaimHorizon:   cfg.ClaimHorizon,
	})
	loop.Start()
	defer loop.Stop()

	rpc := controlrpc.New(controlrpc.Options{
		Store:       st,
		Stats:       stats,
		Dispatcher:  disp,
		Registry:    registry,
		Loop:        loop,
		ClientToken: cfg.ClientToken,
		DBKind:      string(st.Engine()),
		TickSeconds: int(cfg.TickInterval / time.Second),
	})

	addr := fmt.Sprintf("%s:%d", cfg.MCPHost, cfg.MCPPort)
	errCh := make(chan error, 1)
	go func() {
		if cfg.MCPTransport == "stdio" {
			errCh <- rpc.ServeStdio(ctx)
			return
		}
		slog.Info("control RPC listening", "addr", addr)
		errCh <- rpc.ServeHTTP(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}

func buildRegistry(cfg config.Config) (*dispatcher.Registry, error) {
	overrides, err := config.LoadBackendsFile(cfg.BackendsFile)
	if err != nil {
		return nil, err
	}
	specs := config.MergeBackends(config.BuiltinBackends(), overrides)
	return dispatcher.NewRegistry(specs), nil
}
