package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllPhases(t *testing.T) {
	phases := AllPhases()

	require.Len(t, phases, 4, "should have 4 phases")
	assert.Equal(t, PhasePlanningExecution, phases[0], "planning should be first")
	assert.Equal(t, PhaseDelivery, phases[1], "delivery should be second")
	assert.Equal(t, PhasePresentation, phases[2], "presentation should be third")
	assert.Equal(t, PhaseDone, phases[3], "done should be last")
}

func TestNewTaskState(t *testing.T) {
	state := NewTaskState("task-1")

	assert.Equal(t, "task-1", state.TaskID)
	assert.Equal(t, PhasePlanningExecution, state.Phase, "should start at planning")
	assert.NotNil(t, state.Results, "results map should be initialized")
	assert.Equal(t, StatusPending, state.Status, "status should be pending")
	assert.False(t, state.StartedAt.IsZero(), "started_at should be set")
}

func TestTaskState_CanTransition(t *testing.T) {
	tests := []struct {
		name      string
		status    PhaseStatus
		recorded  bool
		next      Phase
		wantError string
	}{
		{name: "completed", status: StatusCompleted, recorded: true, next: PhaseDelivery},
		{name: "timed out is not fatal", status: StatusTimedOut, recorded: true, next: PhaseDelivery},
		{name: "failed is not fatal", status: StatusFailed, recorded: true, next: PhaseDelivery},
		{name: "still running", status: StatusInProgress, recorded: true, next: PhaseDelivery, wantError: "not finished"},
		{name: "no result", next: PhaseDelivery, wantError: "not finished"},
		{name: "skip delivery", status: StatusCompleted, recorded: true, next: PhasePresentation, wantError: "sequential order"},
		{name: "re-enter", status: StatusCompleted, recorded: true, next: PhasePlanningExecution, wantError: "sequential order"},
		{name: "unknown phase", status: StatusCompleted, recorded: true, next: Phase("review"), wantError: "invalid target phase"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := NewTaskState("t")
			if tt.recorded {
				state.Results[PhasePlanningExecution] = &PhaseResult{
					Phase:       PhasePlanningExecution,
					Status:      tt.status,
					CompletedAt: time.Now(),
				}
			}

			err := state.CanTransition(tt.next)
			if tt.wantError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}
}

func TestTaskState_CanTransition_InvalidCurrent(t *testing.T) {
	state := NewTaskState("t")
	state.Phase = Phase("bogus")

	err := state.CanTransition(PhaseDelivery)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid current phase")
}

func TestManifest_Count(t *testing.T) {
	m := Manifest{
		{Name: "a", Status: ManifestOK},
		{Name: "b", Status: ManifestFailed},
		{Name: "c", Status: ManifestOK},
	}
	assert.Equal(t, 2, m.Count(ManifestOK))
	assert.Equal(t, 1, m.Count(ManifestFailed))
}

func TestPhaseTimeoutError(t *testing.T) {
	err := &PhaseTimeoutError{Phase: PhasePlanningExecution, Deadline: 2 * time.Second, Elapsed: 2 * time.Second, Messages: 3, Artifacts: 1}

	assert.ErrorIs(t, err, ErrPhaseTimeout)
	assert.Contains(t, err.Error(), "planning_execution")
	assert.Contains(t, err.Error(), "3 messages")
}
