package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/config"
	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"github.com/fyrsmithlabs/taskrelay/internal/termination"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Progress milestones published when a phase starts.
const (
	planningMilestone     = 0.0
	deliveryMilestone     = 0.94
	presentationMilestone = 0.97
)

// StopFactory builds a fresh termination composite for one task.
type StopFactory func() *termination.Composite

// Executor runs tasks through planning/execution, delivery and presentation.
type Executor struct {
	reporter  Reporter
	store     ArtifactStore
	presenter Presenter
	newStop   StopFactory
	phase     config.PhaseConfig
	logger    *zap.Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l.Named("orchestrator")
		}
	}
}

// WithMetrics sets custom metrics. A nil value disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithTracer sets the tracer used for task and phase spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = t
	}
}

// WithPresenter replaces the default presenter.
func WithPresenter(p Presenter) Option {
	return func(e *Executor) {
		e.presenter = p
	}
}

// WithStopFactory replaces the composite built from the termination config.
func WithStopFactory(f StopFactory) Option {
	return func(e *Executor) {
		e.newStop = f
	}
}

// NewExecutor creates an executor. A nil cfg uses defaults; a nil store makes
// every upload fail with ErrNoArtifactStore.
func NewExecutor(reporter Reporter, store ArtifactStore, cfg *config.Config, opts ...Option) *Executor {
	if cfg == nil {
		cfg = config.Default()
	}
	term := cfg.Termination

	e := &Executor{
		reporter:  reporter,
		store:     store,
		presenter: DefaultPresenter{},
		newStop:   func() *termination.Composite { return termination.FromConfig(term) },
		phase:     cfg.Phase,
		logger:    zap.NewNop(),
		metrics:   NewMetrics(),
		tracer:    Tracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one task to completion. It always publishes exactly one
// final update for taskID, on every path including panics. The returned
// error is nil unless the task failed, in which case it is a
// *PhaseFatalError.
func (e *Executor) Execute(ctx context.Context, taskID string, loop Loop) (state *TaskState, err error) {
	if taskID == "" {
		return nil, ErrEmptyTaskID
	}

	ctx = logging.WithTaskID(ctx, taskID)
	ctx, span := e.tracer.Start(ctx, "orchestrator.execute", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	// The loop may outlive the planning phase; it is cancelled once the task
	// has finished.
	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()

	state = NewTaskState(taskID)
	state.Status = StatusInProgress
	log := e.logger.With(zap.String("task.id", taskID))

	var finalPayload any
	defer func() {
		if r := recover(); r != nil {
			fatal := &PhaseFatalError{Phase: state.Phase, Err: fmt.Errorf("panic: %v", r)}
			log.Error("task panicked", zap.String("phase", string(state.Phase)), zap.Any("panic", r))
			state.Status = StatusFailed
			finalPayload = NewErrorPayload(taskID, fatal)
			err = fatal
		}
		e.finalize(ctx, log, taskID, finalPayload)

		e.metrics.RecordTask(state.Status)
		span.SetAttributes(attribute.String("task.status", string(state.Status)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		log.Info("task finished",
			zap.String("status", string(state.Status)),
			zap.Duration("elapsed", time.Since(state.StartedAt)),
		)
	}()

	e.startLiveness(ctx, log, taskID)

	planning := e.runPhase(ctx, state, PhasePlanningExecution, func(ctx context.Context) PhaseResult {
		return e.planning(ctx, loopCtx, taskID, loop)
	})
	e.metrics.RecordTermination(planning.Context.Outcome.Reason)

	delivery := e.runPhase(ctx, state, PhaseDelivery, func(ctx context.Context) PhaseResult {
		return e.delivery(ctx, taskID, planning.Context)
	})
	e.metrics.RecordManifest(delivery.Context.Manifest)

	var payload any
	presentation := e.runPhase(ctx, state, PhasePresentation, func(ctx context.Context) PhaseResult {
		var r PhaseResult
		payload, r = e.presentation(ctx, PresentationInput{TaskID: taskID, Planning: planning, Delivery: delivery})
		return r
	})

	if presentation.Status == StatusFailed {
		fatal := &PhaseFatalError{Phase: PhasePresentation, Err: presentation.Err}
		state.Status = StatusFailed
		finalPayload = NewErrorPayload(taskID, fatal)
		err = fatal
	} else {
		state.Status = StatusCompleted
		if planning.Status != StatusCompleted || delivery.Context.Manifest.Count(ManifestFailed) > 0 {
			state.Status = StatusDegraded
		}
		finalPayload = payload
	}

	if terr := e.transition(state, PhaseDone); terr != nil {
		log.Warn("phase transition rejected", zap.Error(terr))
	}
	return state, err
}

// runPhase wraps one phase with a span, metrics and bookkeeping.
func (e *Executor) runPhase(ctx context.Context, state *TaskState, phase Phase, run func(context.Context) PhaseResult) PhaseResult {
	if state.Phase != phase {
		if err := e.transition(state, phase); err != nil {
			// Only reachable through a programming error in Execute.
			panic(err)
		}
	}

	ctx = logging.WithPhase(ctx, string(phase))
	ctx, span := e.tracer.Start(ctx, "orchestrator.phase."+string(phase), trace.WithAttributes(
		attribute.String("task.id", state.TaskID),
		attribute.String("phase", string(phase)),
	))
	defer span.End()

	result := run(ctx)
	result.Phase = phase
	if result.Err != nil {
		result.Error = result.Err.Error()
		span.RecordError(result.Err)
	}
	span.SetAttributes(attribute.String("phase.status", string(result.Status)))
	if result.Status == StatusFailed {
		span.SetStatus(codes.Error, result.Error)
	}

	state.Results[phase] = &result
	e.metrics.RecordPhase(phase, result.Status, result.Duration())
	return result
}

func (e *Executor) transition(state *TaskState, next Phase) error {
	if err := state.CanTransition(next); err != nil {
		return err
	}
	state.Phase = next
	return nil
}

// startLiveness publishes the planning milestone and arms the heartbeat so
// observers see the task before the loop produces anything.
func (e *Executor) startLiveness(ctx context.Context, log *zap.Logger, taskID string) {
	e.report(ctx, log, taskID, progress.Literal(planningMilestone), "planning started")
	if hb, ok := e.reporter.(heartbeater); ok {
		if err := hb.StartHeartbeat(taskID, "planning started"); err != nil {
			log.Debug("heartbeat not started", zap.Error(err))
		}
	}
}

// report publishes a progress update. Failures never affect the task.
func (e *Executor) report(ctx context.Context, log *zap.Logger, taskID string, pct progress.Percentage, message string) {
	if e.reporter == nil {
		return
	}
	if err := e.reporter.Report(ctx, taskID, pct, message, nil); err != nil {
		log.Debug("progress report rejected", zap.Error(err), zap.Stringer("percentage", pct))
	}
}

// finalize issues the single final update of a task.
func (e *Executor) finalize(ctx context.Context, log *zap.Logger, taskID string, payload any) {
	if e.reporter == nil {
		return
	}
	if err := e.reporter.ReportFinal(context.WithoutCancel(ctx), taskID, payload); err != nil {
		log.Error("final update rejected", zap.Error(err))
	}
}
