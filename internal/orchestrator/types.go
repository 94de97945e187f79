package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"github.com/fyrsmithlabs/taskrelay/internal/termination"
)

// Phase represents a distinct stage of task execution.
type Phase string

const (
	// PhasePlanningExecution runs the bounded loop under the termination
	// composer and the outer deadline.
	PhasePlanningExecution Phase = "planning_execution"

	// PhaseDelivery uploads the artifacts produced by the loop.
	PhaseDelivery Phase = "delivery"

	// PhasePresentation assembles the final response payload.
	PhasePresentation Phase = "presentation"

	// PhaseDone is terminal.
	PhaseDone Phase = "done"
)

// AllPhases returns all phases in execution order
func AllPhases() []Phase {
	return []Phase{PhasePlanningExecution, PhaseDelivery, PhasePresentation, PhaseDone}
}

// PhaseStatus represents the completion status of a phase or task.
type PhaseStatus string

const (
	StatusPending    PhaseStatus = "pending"
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	StatusTimedOut   PhaseStatus = "timed_out"
	StatusFailed     PhaseStatus = "failed"

	// StatusDegraded is only used for tasks: finished, but with a timed out
	// or failed phase or a failed upload along the way.
	StatusDegraded PhaseStatus = "degraded"
)

// finished reports whether a phase with this status has been exited.
func (s PhaseStatus) finished() bool {
	return s == StatusCompleted || s == StatusTimedOut || s == StatusFailed
}

// LocalArtifact is an output the loop produced on local disk.
type LocalArtifact struct {
	Name        string `json:"name" yaml:"name"`
	Path        string `json:"path" yaml:"path"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
}

// ManifestStatus is the upload outcome of one artifact.
type ManifestStatus string

const (
	ManifestOK     ManifestStatus = "ok"
	ManifestFailed ManifestStatus = "failed"
)

// ManifestEntry maps one local artifact to its store result.
type ManifestEntry struct {
	Name      string         `json:"name"`
	LocalPath string         `json:"local_path"`
	URL       string         `json:"url,omitempty"`
	Status    ManifestStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
}

// Manifest lists upload results in artifact order.
type Manifest []ManifestEntry

// Count returns the number of entries with status s.
func (m Manifest) Count(s ManifestStatus) int {
	n := 0
	for _, e := range m {
		if e.Status == s {
			n++
		}
	}
	return n
}

// PhaseContext is the state accumulated up to the end of a phase. It is a
// value copy; later phases never see mutations made by a straggling loop.
type PhaseContext struct {
	Messages  []termination.Message `json:"messages,omitempty"`
	Artifacts []LocalArtifact       `json:"artifacts,omitempty"`
	Outcome   termination.Outcome   `json:"outcome"`
	Manifest  Manifest              `json:"manifest,omitempty"`
}

// PhaseResult captures the outcome of a phase execution
type PhaseResult struct {
	Phase       Phase        `json:"phase"`
	Status      PhaseStatus  `json:"status"`
	Context     PhaseContext `json:"context"`
	Err         error        `json:"-"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at,omitempty"`
}

// Duration returns how long the phase ran.
func (r PhaseResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// TaskState represents the complete state of a task execution
type TaskState struct {
	TaskID    string                 `json:"task_id"`
	Phase     Phase                  `json:"current_phase"`
	Results   map[Phase]*PhaseResult `json:"results"`
	StartedAt time.Time              `json:"started_at"`
	Status    PhaseStatus            `json:"status"`
}

// NewTaskState creates a task state positioned at the first phase.
func NewTaskState(taskID string) *TaskState {
	return &TaskState{
		TaskID:    taskID,
		Phase:     PhasePlanningExecution,
		Results:   make(map[Phase]*PhaseResult),
		StartedAt: time.Now(),
		Status:    StatusPending,
	}
}

// CanTransition checks if the state can transition to the next phase.
// Phases run strictly in order and a phase must have been exited (with any
// outcome) before the next one starts.
func (s *TaskState) CanTransition(next Phase) error {
	phases := AllPhases()
	currentIdx := -1
	nextIdx := -1

	for i, p := range phases {
		if p == s.Phase {
			currentIdx = i
		}
		if p == next {
			nextIdx = i
		}
	}

	if currentIdx == -1 {
		return fmt.Errorf("invalid current phase: %s", s.Phase)
	}
	if nextIdx == -1 {
		return fmt.Errorf("invalid target phase: %s", next)
	}

	if nextIdx != currentIdx+1 {
		return fmt.Errorf("cannot transition from %s to %s: must follow sequential order", s.Phase, next)
	}

	result, ok := s.Results[s.Phase]
	if !ok || !result.Status.finished() {
		return fmt.Errorf("cannot transition: phase %s not finished", s.Phase)
	}

	return nil
}

// Sink receives loop output as it is produced. Implementations are safe for
// concurrent use.
type Sink interface {
	Message(msg termination.Message)
	Artifact(a LocalArtifact)
}

// Loop is the bounded multi-actor conversation. Run returns when stop fires,
// when the actors are exhausted, or when ctx is done.
type Loop interface {
	Run(ctx context.Context, stop termination.Predicate, sink Sink) error
}

// LoopFunc adapts a function to Loop.
type LoopFunc func(ctx context.Context, stop termination.Predicate, sink Sink) error

func (f LoopFunc) Run(ctx context.Context, stop termination.Predicate, sink Sink) error {
	return f(ctx, stop, sink)
}

// ArtifactStore uploads one artifact and returns where it can be fetched.
type ArtifactStore interface {
	Store(ctx context.Context, taskID string, a LocalArtifact) (string, error)
}

// PresentationInput is everything the presenter may use.
type PresentationInput struct {
	TaskID   string
	Planning PhaseResult
	Delivery PhaseResult
}

// Presenter assembles the final response payload.
type Presenter interface {
	Present(ctx context.Context, in PresentationInput) (any, error)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, in PresentationInput) (any, error)

func (f PresenterFunc) Present(ctx context.Context, in PresentationInput) (any, error) {
	return f(ctx, in)
}

// Reporter is the progress surface the executor drives. *progress.Aggregator
// implements it.
type Reporter interface {
	Report(ctx context.Context, taskID string, pct progress.Percentage, message string, payload any) error
	ReportFinal(ctx context.Context, taskID string, payload any) error
}

// heartbeater is implemented by reporters that can signal liveness while
// the loop is quiet.
type heartbeater interface {
	StartHeartbeat(taskID, initialMessage string) error
}

// Response is the payload of a successful final update.
type Response struct {
	TaskID       string             `json:"task_id"`
	Status       PhaseStatus        `json:"status"`
	Reason       termination.Reason `json:"reason"`
	Summary      string             `json:"summary"`
	Artifacts    Manifest           `json:"artifacts"`
	MessageCount int                `json:"message_count"`
	Degraded     bool               `json:"degraded"`
}
