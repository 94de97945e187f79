// Package main implements the taskrelay CLI.
//
// Usage:
//
//	# Start the relay with an in-process NATS server
//	taskrelay serve --embedded-nats
//
//	# Run one transcript in the foreground
//	taskrelay run examples/review.yaml
//
//	# Follow a task's progress
//	taskrelay watch task-42 --nats nats://localhost:4222
package main

import (
	"fmt"
	"os"

	"github.com/fyrsmithlabs/taskrelay/internal/config"
	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/secrets"
	"github.com/fyrsmithlabs/taskrelay/internal/telemetry"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the YAML config file; empty uses ~/.config/taskrelay/config.yaml
	configPath string
	logLevel   = "info"
	logFormat  = "json"
	// otelEndpoint enables OTLP export when set
	otelEndpoint string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskrelay",
		Short: "Run multi-actor tasks and relay their progress",
		Long: `taskrelay drives scripted multi-actor tasks through planning, delivery and
presentation phases and publishes monotonic progress updates to NATS.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/taskrelay/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json or console)")
	root.PersistentFlags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP collector endpoint; enables telemetry export")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "taskrelay by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func telemetryConfig() *telemetry.Config {
	cfg := telemetry.NewDefaultConfig()
	cfg.ServiceVersion = version
	if otelEndpoint != "" {
		cfg.Enabled = true
		cfg.Endpoint = otelEndpoint
	}
	return cfg
}

func initLogger(tel *telemetry.Telemetry) (*logging.Logger, error) {
	level, err := logging.LevelFromString(logLevel)
	if err != nil {
		return nil, err
	}
	cfg := logging.NewDefaultConfig()
	cfg.Level = level
	cfg.Format = logFormat
	cfg.Fields["version"] = version

	if tel != nil && tel.IsEnabled() {
		cfg.Output.OTEL = true
		return logging.NewLogger(cfg, tel.LoggerProvider())
	}
	return logging.NewLogger(cfg, nil)
}

func newScrubber(cfg *config.Config) (*secrets.Scrubber, error) {
	sc := secrets.DefaultConfig()
	sc.Enabled = cfg.Scrub.Active()
	sc.AllowList = cfg.Scrub.AllowList
	s, err := secrets.New(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to build secret scrubber: %w", err)
	}
	return s, nil
}
