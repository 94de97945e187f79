package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/config"
	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"github.com/fyrsmithlabs/taskrelay/internal/telemetry"
	"github.com/fyrsmithlabs/taskrelay/internal/termination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockArtifactStore is a mock implementation of ArtifactStore
type MockArtifactStore struct {
	mock.Mock
}

func (m *MockArtifactStore) Store(ctx context.Context, taskID string, a LocalArtifact) (string, error) {
	args := m.Called(ctx, taskID, a)
	return args.String(0), args.Error(1)
}

type storeFunc func(ctx context.Context, taskID string, a LocalArtifact) (string, error)

func (f storeFunc) Store(ctx context.Context, taskID string, a LocalArtifact) (string, error) {
	return f(ctx, taskID, a)
}

// scripted emits artifacts, then messages, checking stop after each message.
func scripted(msgs []termination.Message, arts ...LocalArtifact) Loop {
	return LoopFunc(func(ctx context.Context, stop termination.Predicate, sink Sink) error {
		for _, a := range arts {
			sink.Artifact(a)
		}
		var history []termination.Message
		for _, m := range msgs {
			if err := ctx.Err(); err != nil {
				return err
			}
			history = append(history, m)
			sink.Message(m)
			if stop.ShouldStop(history) {
				return nil
			}
		}
		return nil
	})
}

type harness struct {
	agg *progress.Aggregator
	rec *progress.Recorder
	cfg *config.Config
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	off := false
	cfg.Heartbeat.AutoStart = &off
	cfg.Progress.RateLimitSeconds = 0
	if mutate != nil {
		mutate(cfg)
	}
	rec := progress.NewRecorder()
	agg := progress.New(rec, cfg)
	t.Cleanup(func() { _ = agg.Close(context.Background()) })
	return &harness{agg: agg, rec: rec, cfg: cfg}
}

func assertNonDecreasing(t *testing.T, values []float64) {
	t.Helper()
	for i := 1; i < len(values); i++ {
		require.GreaterOrEqual(t, values[i], values[i-1], "published percentages must not decrease: %v", values)
	}
}

func msg(source, content string) termination.Message {
	return termination.Message{Source: source, Content: content}
}

func TestExecute_Success(t *testing.T) {
	h := newHarness(t, nil)
	store := &MockArtifactStore{}
	store.On("Store", mock.Anything, "task-1", LocalArtifact{Name: "report.md", Path: "/tmp/report.md"}).
		Return("file:///store/report.md", nil)

	exec := NewExecutor(h.agg, store, h.cfg)
	loop := scripted([]termination.Message{
		msg("writer", "Plan:\n1. draft the report"),
		msg("reviewer", `looks good {"score": 95}`),
		msg("writer", "never reached"),
	}, LocalArtifact{Name: "report.md", Path: "/tmp/report.md"})

	state, err := exec.Execute(context.Background(), "task-1", loop)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, PhaseDone, state.Phase)
	planning := state.Results[PhasePlanningExecution]
	require.NotNil(t, planning)
	assert.Equal(t, StatusCompleted, planning.Status)
	assert.Equal(t, termination.ReasonScore, planning.Context.Outcome.Reason)
	assert.Equal(t, 1, planning.Context.Outcome.TriggeringMessageIndex)
	assert.Len(t, planning.Context.Messages, 2)

	finals := h.rec.Finals("task-1")
	require.Len(t, finals, 1)
	resp, ok := finals[0].Payload.(Response)
	require.True(t, ok, "final payload should be a Response, got %T", finals[0].Payload)
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.False(t, resp.Degraded)
	assert.Equal(t, 2, resp.MessageCount)
	require.Len(t, resp.Artifacts, 1)
	assert.Equal(t, "file:///store/report.md", resp.Artifacts[0].URL)

	pcts := h.rec.Percentages("task-1")
	assertNonDecreasing(t, pcts)
	assert.Equal(t, 0.0, pcts[0])
	assert.Contains(t, pcts, deliveryMilestone)
	assert.Contains(t, pcts, presentationMilestone)
	assert.Equal(t, 1.0, pcts[len(pcts)-1])
	assert.True(t, h.rec.Updates()[len(h.rec.Updates())-1].IsFinal, "final must be the last update")

	store.AssertExpectations(t)
}

func TestExecute_InterestingMessagesAdvanceProgress(t *testing.T) {
	h := newHarness(t, nil)
	exec := NewExecutor(h.agg, nil, h.cfg)

	loop := scripted([]termination.Message{
		msg("coder", "```go\nfunc main() {}\n```"),
		msg("coder", "thinking out loud"),
		msg("coder", "```go\nfunc other() {}\n```"),
	})

	_, err := exec.Execute(context.Background(), "task-p", loop)
	require.NoError(t, err)

	var autos []progress.Update
	for _, u := range h.rec.ForTask("task-p") {
		if u.Message == "coder produced code" {
			autos = append(autos, u)
		}
	}
	require.Len(t, autos, 2, "chatter must not produce a report")
	assert.Equal(t, 0.05, autos[0].Percentage)
	assert.Equal(t, 0.06, autos[1].Percentage)
}

func TestExecute_OuterDeadlineDegrades(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Phase.OuterDeadlineSeconds = 0.2
	})
	store := &MockArtifactStore{}
	store.On("Store", mock.Anything, "slow", mock.Anything).Return("file:///partial", nil)

	var lateAccepted atomic.Bool
	loop := LoopFunc(func(ctx context.Context, stop termination.Predicate, sink Sink) error {
		sink.Artifact(LocalArtifact{Name: "partial.txt", Path: "/tmp/partial.txt"})
		sink.Message(msg("writer", "first draft"))

		// Simulates a loop that needs 10s.
		select {
		case <-time.After(10 * time.Second):
		case <-ctx.Done():
		}
		sink.Message(msg("writer", "too late"))
		lateAccepted.Store(true)
		return ctx.Err()
	})

	exec := NewExecutor(h.agg, store, h.cfg)
	start := time.Now()
	state, err := exec.Execute(context.Background(), "slow", loop)
	elapsed := time.Since(start)

	require.NoError(t, err, "a planning timeout is not fatal")
	assert.Less(t, elapsed, 3*time.Second)
	assert.Equal(t, StatusDegraded, state.Status)

	planning := state.Results[PhasePlanningExecution]
	assert.Equal(t, StatusTimedOut, planning.Status)
	assert.ErrorIs(t, planning.Err, ErrPhaseTimeout)
	var pte *PhaseTimeoutError
	require.ErrorAs(t, planning.Err, &pte)
	assert.Equal(t, 1, pte.Messages)
	assert.Equal(t, 1, pte.Artifacts)

	delivery := state.Results[PhaseDelivery]
	require.Len(t, delivery.Context.Manifest, 1)
	assert.Equal(t, ManifestOK, delivery.Context.Manifest[0].Status)

	finals := h.rec.Finals("slow")
	require.Len(t, finals, 1)
	resp := finals[0].Payload.(Response)
	assert.True(t, resp.Degraded)
	assert.Equal(t, 1, resp.MessageCount)

	assert.Eventually(t, lateAccepted.Load, 2*time.Second, 10*time.Millisecond, "loop should be cancelled once the task ends")
	assert.Len(t, planning.Context.Messages, 1, "late messages must not leak into the snapshot")
}

func TestExecute_DeliveryPartialFailure(t *testing.T) {
	h := newHarness(t, nil)
	arts := []LocalArtifact{
		{Name: "a", Path: "/tmp/a"},
		{Name: "b", Path: "/tmp/b"},
		{Name: "c", Path: "/tmp/c"},
	}
	store := &MockArtifactStore{}
	store.On("Store", mock.Anything, "t3", arts[0]).Return("file:///a", nil)
	store.On("Store", mock.Anything, "t3", arts[1]).Return("", errors.New("bucket unavailable"))
	store.On("Store", mock.Anything, "t3", arts[2]).Return("file:///c", nil)

	exec := NewExecutor(h.agg, store, h.cfg)
	state, err := exec.Execute(context.Background(), "t3", scripted(nil, arts...))
	require.NoError(t, err)

	manifest := state.Results[PhaseDelivery].Context.Manifest
	require.Len(t, manifest, 3)
	assert.Equal(t, "a", manifest[0].Name)
	assert.Equal(t, "b", manifest[1].Name)
	assert.Equal(t, "c", manifest[2].Name)
	assert.Equal(t, 2, manifest.Count(ManifestOK))
	assert.Equal(t, ManifestFailed, manifest[1].Status)
	assert.Contains(t, manifest[1].Error, "bucket unavailable")
	assert.Equal(t, StatusCompleted, state.Results[PhaseDelivery].Status)
	assert.Equal(t, StatusDegraded, state.Status)

	store.AssertNumberOfCalls(t, "Store", 3)
	assert.Len(t, h.rec.Finals("t3"), 1)
}

func TestExecute_DeliveryPanicAndTimeout(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Phase.UploadTimeoutSeconds = 0.05
	})
	store := storeFunc(func(ctx context.Context, _ string, a LocalArtifact) (string, error) {
		switch a.Name {
		case "panics":
			panic("disk on fire")
		case "hangs":
			time.Sleep(time.Second)
			return "file:///too-late", nil
		}
		return "file:///" + a.Name, nil
	})

	exec := NewExecutor(h.agg, store, h.cfg)
	state, err := exec.Execute(context.Background(), "t4", scripted(nil,
		LocalArtifact{Name: "panics"},
		LocalArtifact{Name: "hangs"},
		LocalArtifact{Name: "fine"},
	))
	require.NoError(t, err)

	manifest := state.Results[PhaseDelivery].Context.Manifest
	require.Len(t, manifest, 3)
	assert.Equal(t, ManifestFailed, manifest[0].Status)
	assert.Contains(t, manifest[0].Error, "panicked")
	assert.Equal(t, ManifestFailed, manifest[1].Status)
	assert.Contains(t, manifest[1].Error, "abandoned")
	assert.Equal(t, ManifestOK, manifest[2].Status)
}

func TestExecute_NoStore(t *testing.T) {
	h := newHarness(t, nil)
	exec := NewExecutor(h.agg, nil, h.cfg)

	state, err := exec.Execute(context.Background(), "t5", scripted(nil, LocalArtifact{Name: "x"}))
	require.NoError(t, err)

	manifest := state.Results[PhaseDelivery].Context.Manifest
	require.Len(t, manifest, 1)
	assert.Equal(t, ErrNoArtifactStore.Error(), manifest[0].Error)
}

func TestExecute_LoopFailureIsNotFatal(t *testing.T) {
	tests := []struct {
		name string
		loop Loop
	}{
		{
			name: "error",
			loop: LoopFunc(func(_ context.Context, _ termination.Predicate, sink Sink) error {
				sink.Message(msg("a", "partial"))
				return errors.New("model unavailable")
			}),
		},
		{
			name: "panic",
			loop: LoopFunc(func(_ context.Context, _ termination.Predicate, sink Sink) error {
				sink.Message(msg("a", "partial"))
				panic("actor crashed")
			}),
		},
		{
			name: "nil loop",
			loop: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			exec := NewExecutor(h.agg, nil, h.cfg)

			state, err := exec.Execute(context.Background(), "loop-"+tt.name, tt.loop)
			require.NoError(t, err)

			planning := state.Results[PhasePlanningExecution]
			assert.Equal(t, StatusFailed, planning.Status)
			assert.ErrorIs(t, planning.Err, ErrLoopFailed)
			assert.Equal(t, StatusDegraded, state.Status)
			assert.Len(t, h.rec.Finals("loop-"+tt.name), 1)
		})
	}
}

func TestExecute_PresentationFailure(t *testing.T) {
	tests := []struct {
		name      string
		presenter Presenter
		wantErr   string
	}{
		{
			name: "error",
			presenter: PresenterFunc(func(context.Context, PresentationInput) (any, error) {
				return nil, errors.New("template broken")
			}),
			wantErr: "template broken",
		},
		{
			name: "panic",
			presenter: PresenterFunc(func(context.Context, PresentationInput) (any, error) {
				panic("nil map")
			}),
			wantErr: "presenter panicked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			exec := NewExecutor(h.agg, nil, h.cfg, WithPresenter(tt.presenter))

			taskID := "present-" + tt.name
			state, err := exec.Execute(context.Background(), taskID, scripted([]termination.Message{msg("a", "hi")}))

			var fatal *PhaseFatalError
			require.ErrorAs(t, err, &fatal)
			assert.Equal(t, PhasePresentation, fatal.Phase)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, StatusFailed, state.Status)

			finals := h.rec.Finals(taskID)
			require.Len(t, finals, 1, "a failed task still gets exactly one final")
			payload, ok := finals[0].Payload.(ErrorPayload)
			require.True(t, ok)
			assert.Equal(t, PhasePresentation, payload.Phase)
			assert.Contains(t, payload.Error, tt.wantErr)
		})
	}
}

func TestExecute_CancelledContextStillFinalizes(t *testing.T) {
	h := newHarness(t, nil)
	exec := NewExecutor(h.agg, nil, h.cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := exec.Execute(ctx, "cancelled", scripted([]termination.Message{msg("a", "hi")}))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Results[PhasePlanningExecution].Status)
	assert.Len(t, h.rec.Finals("cancelled"), 1)
}

func TestExecute_EmptyTaskID(t *testing.T) {
	h := newHarness(t, nil)
	exec := NewExecutor(h.agg, nil, h.cfg)

	_, err := exec.Execute(context.Background(), "", scripted(nil))
	assert.ErrorIs(t, err, ErrEmptyTaskID)
	assert.Empty(t, h.rec.Updates())
}

func TestExecute_CustomStopFactory(t *testing.T) {
	h := newHarness(t, nil)
	exec := NewExecutor(h.agg, nil, h.cfg, WithStopFactory(func() *termination.Composite {
		return termination.Compose(termination.NewMaxMessagesPredicate(2))
	}))

	state, err := exec.Execute(context.Background(), "capped", scripted([]termination.Message{
		msg("a", "1"), msg("b", "2"), msg("a", "3"),
	}))
	require.NoError(t, err)

	outcome := state.Results[PhasePlanningExecution].Context.Outcome
	assert.Equal(t, termination.ReasonMaxMessages, outcome.Reason)
	assert.Equal(t, 1, outcome.TriggeringMessageIndex)
}

func TestExecute_Spans(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	h := newHarness(t, nil)
	exec := NewExecutor(h.agg, nil, h.cfg, WithTracer(tt.Tracer(InstrumentationName)))

	_, err := exec.Execute(context.Background(), "traced", scripted(nil))
	require.NoError(t, err)

	tt.AssertSpanExists(t, "orchestrator.execute")
	tt.AssertSpanExists(t, "orchestrator.phase.planning_execution")
	tt.AssertSpanExists(t, "orchestrator.phase.delivery")
	tt.AssertSpanExists(t, "orchestrator.phase.presentation")
	tt.AssertSpanAttribute(t, "orchestrator.execute", "task.id", "traced")
	tt.AssertSpanAttribute(t, "orchestrator.execute", "task.status", "completed")
}

func TestDefaultPresenter(t *testing.T) {
	in := PresentationInput{
		TaskID: "t",
		Planning: PhaseResult{
			Status: StatusTimedOut,
			Context: PhaseContext{
				Messages: []termination.Message{msg("a", "x")},
				Outcome:  termination.NotFired(),
			},
		},
		Delivery: PhaseResult{
			Status: StatusCompleted,
			Context: PhaseContext{Manifest: Manifest{
				{Name: "a", Status: ManifestOK},
				{Name: "b", Status: ManifestFailed},
			}},
		},
	}

	out, err := DefaultPresenter{}.Present(context.Background(), in)
	require.NoError(t, err)
	resp := out.(Response)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.True(t, resp.Degraded)
	assert.Equal(t, termination.ReasonNone, resp.Reason)
	assert.Equal(t, "loop abandoned at deadline after 1 messages; 1/2 artifacts delivered", resp.Summary)
}
