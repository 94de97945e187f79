package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/artifact"
	"github.com/fyrsmithlabs/taskrelay/internal/config"
	httpserver "github.com/fyrsmithlabs/taskrelay/internal/http"
	"github.com/fyrsmithlabs/taskrelay/internal/orchestrator"
	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"github.com/fyrsmithlabs/taskrelay/internal/publish"
	"github.com/fyrsmithlabs/taskrelay/internal/secrets"
	"github.com/fyrsmithlabs/taskrelay/internal/tasks"
	"github.com/fyrsmithlabs/taskrelay/internal/telemetry"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type serveOptions struct {
	embeddedNATS bool
	natsURL      string
	host         string
	port         int
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the taskrelay HTTP server",
		Long: `Start the HTTP server that accepts transcripts, runs them through the phase
orchestrator and streams their progress.

Examples:
  # Single binary, no external NATS
  taskrelay serve --embedded-nats

  # External NATS on a custom port
  taskrelay serve --nats nats://nats:4222 --port 8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup signal handling for graceful shutdown
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			go func() {
				select {
				case <-sigCh:
					cancel()
				case <-ctx.Done():
				}
			}()

			return runServe(ctx, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.embeddedNATS, "embedded-nats", false, "run a NATS server inside the process")
	cmd.Flags().StringVar(&opts.natsURL, "nats", "", "NATS URL (overrides nats.url)")
	cmd.Flags().StringVar(&opts.host, "host", "", "HTTP host (overrides server.http_host)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "HTTP port (overrides server.http_port)")
	return cmd
}

// dependencies holds the infrastructure started by runServe.
type dependencies struct {
	embedded *natsserver.Server
	nc       *nats.Conn
	tel      *telemetry.Telemetry
	logger   *zap.Logger
}

// Close releases dependencies in reverse start order.
func (d *dependencies) Close(ctx context.Context) {
	if d.nc != nil {
		if err := d.nc.Drain(); err != nil {
			d.logger.Warn("failed to drain NATS connection", zap.Error(err))
		}
	}
	if d.embedded != nil {
		d.embedded.Shutdown()
	}
	if d.tel != nil {
		if err := d.tel.Shutdown(ctx); err != nil {
			d.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}

// runServe wires the relay and blocks until ctx is cancelled:
//  1. Loads configuration, telemetry and logger
//  2. Connects to NATS, starting an embedded server when asked
//  3. Builds the progress aggregator, executor and task runner
//  4. Serves HTTP until shutdown, then drains tasks so every final is published
func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.natsURL != "" {
		cfg.NATS.URL = opts.natsURL
	}
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}

	tel, err := telemetry.New(ctx, telemetryConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	log, err := initLogger(tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := log.Underlying()
	defer func() {
		_ = log.Sync() // Best-effort sync on shutdown
	}()

	deps := &dependencies{tel: tel, logger: logger}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		deps.Close(closeCtx)
	}()

	if opts.embeddedNATS {
		srv, err := publish.StartEmbedded(publish.EmbeddedOptions{Port: -1})
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		deps.embedded = srv
		cfg.NATS.URL = srv.ClientURL()
		logger.Info("embedded NATS server started", zap.String("url", cfg.NATS.URL))
	}

	nc, err := publish.Connect(cfg.NATS, logger)
	if err != nil {
		return err
	}
	deps.nc = nc

	logger.Info("starting taskrelay",
		zap.String("version", version),
		zap.String("nats_url", cfg.NATS.URL),
		zap.String("subject_prefix", cfg.NATS.SubjectPrefix),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	scrubber, err := newScrubber(cfg)
	if err != nil {
		return err
	}
	pub := secrets.NewPublisher(publish.NewRetrying(
		publish.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, cfg.Publish),
		publish.RetryConfigFrom(cfg.Publish),
		logger,
	), scrubber, logger)
	agg := progress.New(pub, cfg, progress.WithLogger(logger))
	runner := newRunner(agg, cfg, tel, logger, tasks.WithSnapshots(agg))

	server, err := httpserver.NewServer(httpserver.Deps{
		Runner:        runner,
		Snapshots:     agg,
		NATS:          nc,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
	}, logger, &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("HTTP server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tasks did not finish before the shutdown deadline", zap.Error(err))
	}
	if err := agg.Close(shutdownCtx); err != nil {
		logger.Warn("progress aggregator close incomplete", zap.Error(err))
	}

	logger.Info("taskrelay shutdown complete")
	return serveErr
}

// newRunner builds the executor and runner shared by serve and run.
func newRunner(reporter orchestrator.Reporter, cfg *config.Config, tel *telemetry.Telemetry, logger *zap.Logger, opts ...tasks.Option) *tasks.Runner {
	store := artifact.NewFileStore(cfg.Artifacts.Dir)
	exec := orchestrator.NewExecutor(reporter, store, cfg,
		orchestrator.WithLogger(logger),
		orchestrator.WithTracer(tel.Tracer(orchestrator.InstrumentationName)),
	)
	return tasks.NewRunner(exec, filepath.Join(cfg.Artifacts.Dir, ".work"), logger, opts...)
}
