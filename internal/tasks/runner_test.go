package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/config"
	"github.com/fyrsmithlabs/taskrelay/internal/loop"
	"github.com/fyrsmithlabs/taskrelay/internal/orchestrator"
	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T) (*Runner, *progress.Recorder) {
	t.Helper()
	cfg := config.Default()
	off := false
	cfg.Heartbeat.AutoStart = &off

	rec := progress.NewRecorder()
	agg := progress.New(rec, cfg)
	t.Cleanup(func() { _ = agg.Close(context.Background()) })

	exec := orchestrator.NewExecutor(agg, nil, cfg)
	return NewRunner(exec, t.TempDir(), nil, WithSnapshots(agg)), rec
}

func transcript(id string, delay time.Duration) loop.Transcript {
	return loop.Transcript{
		TaskID: id,
		Actors: []loop.TranscriptActor{
			{Name: "writer", Turns: []loop.ScriptedTurn{{Content: "draft", Delay: config.Duration(delay)}}},
			{Name: "reviewer", Turns: []loop.ScriptedTurn{{Content: `{"score": 95}`}}},
		},
	}
}

func TestRunner_StartAndDrain(t *testing.T) {
	r, rec := newTestRunner(t)

	id, err := r.Start(transcript("job-1", 20*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	require.NoError(t, r.Shutdown(context.Background()))
	assert.Empty(t, r.Running())
	require.Len(t, rec.Finals("job-1"), 1)

	_, err = r.Start(transcript("job-2", 0))
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestRunner_GeneratesID(t *testing.T) {
	r, _ := newTestRunner(t)

	id, err := r.Start(transcript("", 0))
	require.NoError(t, err)
	assert.Len(t, id, 36)
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestRunner_RejectsDuplicateAndInvalidIDs(t *testing.T) {
	r, _ := newTestRunner(t)
	defer r.Shutdown(context.Background())

	_, err := r.Start(transcript("dup", time.Second))
	require.NoError(t, err)
	_, err = r.Start(transcript("dup", 0))
	assert.ErrorIs(t, err, ErrTaskExists)

	_, err = r.Start(transcript("has.dot", 0))
	assert.ErrorIs(t, err, ErrInvalidTaskID)

	assert.True(t, r.Cancel("dup"))
	assert.False(t, r.Cancel("unknown"))
}

func TestRunner_RejectsFinishedID(t *testing.T) {
	r, rec := newTestRunner(t)
	defer r.Shutdown(context.Background())

	_, err := r.Start(transcript("same", 0))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(r.Running()) == 0 && len(rec.Finals("same")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err = r.Start(transcript("same", 0))
	assert.ErrorIs(t, err, ErrTaskExists)
	assert.Len(t, rec.Finals("same"), 1)
}

func TestRunner_ShutdownDeadlineCancels(t *testing.T) {
	r, rec := newTestRunner(t)

	_, err := r.Start(transcript("slow", 10*time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = r.Shutdown(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, rec.Finals("slow"), 1, "cancelled tasks still finalize")
}

func TestRunner_Run(t *testing.T) {
	r, rec := newTestRunner(t)

	state, err := r.Run(context.Background(), transcript("sync", 0))
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusCompleted, state.Status)
	assert.Len(t, rec.Finals("sync"), 1)
}
