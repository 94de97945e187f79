package main

import (
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fyrsmithlabs/taskrelay/internal/monitor"
	"github.com/fyrsmithlabs/taskrelay/internal/publish"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type watchOptions struct {
	natsURL   string
	serverURL string
	interval  time.Duration
}

func newWatchCmd() *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch <task_id>",
		Short: "Follow a task's progress in a terminal dashboard",
		Long: `Follow a task's progress until its final update.

Updates are read from NATS when --nats is set (or nats.url is configured),
otherwise the relay's HTTP API is polled.

Examples:
  # Subscribe over NATS
  taskrelay watch task-42 --nats nats://localhost:4222

  # Poll the HTTP API
  taskrelay watch task-42 --server http://localhost:9191`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.natsURL, "nats", "", "NATS URL to subscribe on")
	cmd.Flags().StringVar(&opts.serverURL, "server", "", "relay HTTP URL to poll instead of NATS")
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Second, "dashboard refresh and poll interval")
	return cmd
}

func runWatch(taskID string, opts *watchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	staleAfter := 2 * cfg.Heartbeat.Interval()

	var source monitor.Source
	if opts.serverURL != "" {
		source = monitor.NewPollSource(monitor.NewSnapshotClient(opts.serverURL), taskID, opts.interval)
	} else {
		if opts.natsURL != "" {
			cfg.NATS.URL = opts.natsURL
		}
		// The dashboard owns the terminal, so connection events are not logged.
		nc, err := publish.Connect(cfg.NATS, zap.NewNop())
		if err != nil {
			return err
		}
		defer nc.Close()

		sub, err := publish.Subscribe(nc, cfg.NATS.SubjectPrefix, taskID)
		if err != nil {
			return err
		}
		defer func() {
			_ = sub.Close()
		}()
		source = sub
	}

	model := monitor.NewModel(taskID, source, opts.interval, staleAfter)
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}

	m, ok := final.(monitor.Model)
	if !ok {
		return errors.New("unexpected dashboard model")
	}
	if err := m.Err(); err != nil {
		return fmt.Errorf("watching %s: %w", taskID, err)
	}
	return nil
}
