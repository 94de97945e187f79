package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyTaskID is returned by Execute when no task id is given.
	ErrEmptyTaskID = errors.New("task id is required")

	// ErrPhaseTimeout matches every *PhaseTimeoutError.
	ErrPhaseTimeout = errors.New("phase deadline exceeded")

	// ErrLoopFailed wraps errors and panics coming out of the bounded loop.
	ErrLoopFailed = errors.New("bounded loop failed")

	// ErrNoArtifactStore marks uploads attempted without a configured store.
	ErrNoArtifactStore = errors.New("no artifact store configured")
)

// PhaseTimeoutError reports a phase abandoned at its outer deadline. It is
// never fatal: execution continues with the partial context.
type PhaseTimeoutError struct {
	Phase     Phase
	Deadline  time.Duration
	Elapsed   time.Duration
	Messages  int
	Artifacts int
}

func (e *PhaseTimeoutError) Error() string {
	return fmt.Sprintf("phase %s exceeded its %s deadline after %s (%d messages, %d artifacts captured)",
		e.Phase, e.Deadline, e.Elapsed.Round(time.Millisecond), e.Messages, e.Artifacts)
}

// Is makes errors.Is(err, ErrPhaseTimeout) hold.
func (e *PhaseTimeoutError) Is(target error) bool {
	return target == ErrPhaseTimeout
}

// PhaseFatalError is the only error that marks a task failed. Only the
// presentation phase (or a panic in the executor itself) produces it.
type PhaseFatalError struct {
	Phase Phase
	Err   error
}

func (e *PhaseFatalError) Error() string {
	return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseFatalError) Unwrap() error { return e.Err }

// ErrorPayload is carried by the final update of a failed task.
type ErrorPayload struct {
	TaskID string      `json:"task_id"`
	Status PhaseStatus `json:"status"`
	Phase  Phase       `json:"phase"`
	Error  string      `json:"error"`
}

// NewErrorPayload builds the final payload for a failed task.
func NewErrorPayload(taskID string, err *PhaseFatalError) ErrorPayload {
	return ErrorPayload{TaskID: taskID, Status: StatusFailed, Phase: err.Phase, Error: err.Error()}
}
