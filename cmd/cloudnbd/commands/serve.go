package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/cloudnbd/internal/admin"
	"github.com/marmos91/cloudnbd/internal/config"
	"github.com/marmos91/cloudnbd/internal/logger"
	"github.com/marmos91/cloudnbd/internal/telemetry"
	"github.com/marmos91/cloudnbd/pkg/nbd"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cloudnbd NBD server and admin HTTP endpoint",
	Long: `Run starts the NBD listener and the admin HTTP server (health, metrics,
status) concurrently, and blocks until one of them fails or the process
receives SIGINT/SIGTERM.

Use --config to specify a custom configuration file, or it will be
discovered via the usual viper search path / CLOUDNBD_ environment
variables.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			Enabled:        true,
			ServiceName:    "cloudnbd",
			ServiceVersion: Version,
			Endpoint:       cfg.Telemetry.Endpoint,
			Insecure:       cfg.Telemetry.Insecure,
			SampleRate:     cfg.Telemetry.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	if cfg.Telemetry.Profiling.Enabled {
		shutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
			Enabled:        true,
			ServiceName:    "cloudnbd",
			ServiceVersion: Version,
			Endpoint:       cfg.Telemetry.Profiling.Endpoint,
			ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
		})
		if err != nil {
			return fmt.Errorf("init profiling: %w", err)
		}
		defer func() { _ = shutdown() }()
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
	}

	table, occupancy, err := config.BuildExportTable(ctx, cfg, registry)
	if err != nil {
		return fmt.Errorf("build export table: %w", err)
	}

	var nbdMetrics nbd.Metrics
	if registry != nil {
		nbdMetrics = admin.NewNBDMetrics(registry)
	}

	server := nbd.NewServer(table, nbdMetrics)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("nbd server listening", "address", cfg.Server.ListenAddress)
		return server.Serve(gCtx, cfg.Server.ListenAddress)
	})

	if cfg.Admin.Enabled {
		router := admin.NewRouter(table, registry, occupancy)
		adminServer := newHTTPServer(cfg.Admin.ListenAddress, router)

		g.Go(func() error {
			logger.Info("admin server listening", "address", cfg.Admin.ListenAddress)
			return adminServer.ListenAndServe()
		})
		g.Go(func() error {
			<-gCtx.Done()
			return adminServer.Close()
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		server.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && gCtx.Err() == nil {
		return fmt.Errorf("server exited: %w", err)
	}

	server.Wait()
	if err := table.Flush(context.Background()); err != nil {
		return fmt.Errorf("flush exports on shutdown: %w", err)
	}
	logger.Info("cloudnbd shut down cleanly")
	return nil
}
