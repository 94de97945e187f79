package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fyrsmithlabs/taskrelay/internal/loop"
	"github.com/fyrsmithlabs/taskrelay/internal/orchestrator"
	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"github.com/fyrsmithlabs/taskrelay/internal/publish"
	"github.com/fyrsmithlabs/taskrelay/internal/secrets"
	"github.com/fyrsmithlabs/taskrelay/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	pctStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	heartbeatStyle = lipgloss.NewStyle().Faint(true)
	finalStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failedStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

type runOptions struct {
	natsURL string
	jsonOut bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <transcript.yaml>",
		Short: "Run a transcript in the foreground",
		Long: `Run a scripted transcript through the phase orchestrator and print every
progress update as it is published.

Examples:
  # Print updates to the terminal
  taskrelay run review.yaml

  # Also publish to NATS so 'taskrelay watch' can follow along
  taskrelay run review.yaml --nats nats://localhost:4222`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runTranscript(ctx, cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.natsURL, "nats", "", "also publish updates to this NATS server")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print updates and the final state as JSON")
	return cmd
}

func runTranscript(ctx context.Context, out io.Writer, path string, opts *runOptions) error {
	tr, err := loop.LoadTranscript(path)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetryConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	log, err := initLogger(tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := log.Underlying()
	defer func() {
		_ = log.Sync()
	}()

	printer := &updatePrinter{out: out, json: opts.jsonOut}
	var pub progress.Publisher = printer
	if opts.natsURL != "" {
		cfg.NATS.URL = opts.natsURL
		nc, err := publish.Connect(cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		remote := publish.NewRetrying(
			publish.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, cfg.Publish),
			publish.RetryConfigFrom(cfg.Publish),
			logger,
		)
		pub = progress.PublisherFunc(func(ctx context.Context, u progress.Update) error {
			_ = printer.Publish(ctx, u)
			return remote.Publish(ctx, u)
		})
	}

	scrubber, err := newScrubber(cfg)
	if err != nil {
		return err
	}
	agg := progress.New(secrets.NewPublisher(pub, scrubber, logger), cfg, progress.WithLogger(logger))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = agg.Close(closeCtx)
	}()

	runner := newRunner(agg, cfg, tel, logger)
	state, err := runner.Run(ctx, tr)
	if err != nil {
		logger.Error("task failed", zap.Error(err))
	}
	if state != nil {
		printer.State(state)
	}
	return err
}

// updatePrinter renders updates for a terminal.
type updatePrinter struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
}

func (p *updatePrinter) Publish(_ context.Context, u progress.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		return json.NewEncoder(p.out).Encode(u)
	}

	pct := pctStyle.Render(fmt.Sprintf("%5.1f%%", u.Percentage*100))
	switch u.Kind() {
	case progress.KindHeartbeat:
		fmt.Fprintf(p.out, "%s %s\n", pct, heartbeatStyle.Render("… "+u.Message))
	case progress.KindFinal:
		fmt.Fprintf(p.out, "%s %s\n", pct, finalStyle.Render(u.Message))
	default:
		fmt.Fprintf(p.out, "%s %s\n", pct, u.Message)
	}
	return nil
}

// State prints the per-phase outcome of a finished task.
func (p *updatePrinter) State(state *orchestrator.TaskState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		_ = json.NewEncoder(p.out).Encode(state)
		return
	}

	fmt.Fprintf(p.out, "\ntask %s: %s\n", state.TaskID, statusStyle(state.Status).Render(string(state.Status)))
	for _, phase := range orchestrator.AllPhases() {
		res, ok := state.Results[phase]
		if !ok {
			continue
		}
		line := fmt.Sprintf("  %-20s %-10s %s", phase, res.Status, res.Duration().Round(time.Millisecond))
		if res.Error != "" {
			line += "  " + res.Error
		}
		fmt.Fprintln(p.out, line)
	}
}

func statusStyle(s orchestrator.PhaseStatus) lipgloss.Style {
	switch s {
	case orchestrator.StatusFailed:
		return failedStyle
	case orchestrator.StatusCompleted:
		return finalStyle
	default:
		return lipgloss.NewStyle()
	}
}
