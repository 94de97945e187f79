// Package tasks launches scripted tasks through the phase orchestrator and
// keeps track of the ones still running.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/taskrelay/internal/loop"
	"github.com/fyrsmithlabs/taskrelay/internal/orchestrator"
	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrTaskExists    = errors.New("task already running")
	ErrInvalidTaskID = errors.New("task id must match [A-Za-z0-9_-]{1,128}")
	ErrShuttingDown  = errors.New("runner is shutting down")
)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Executor runs one task. *orchestrator.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, taskID string, l orchestrator.Loop) (*orchestrator.TaskState, error)
}

// SnapshotSource reports the progress state of tasks the relay already knows.
// *progress.Aggregator implements it.
type SnapshotSource interface {
	Snapshot(taskID string) (progress.Snapshot, bool)
}

// Option configures a Runner.
type Option func(*Runner)

// WithSnapshots makes Start reject ids whose progress state is still held,
// including finalized tasks that are not yet garbage collected. The aggregator
// ignores reports for those ids.
func WithSnapshots(src SnapshotSource) Option {
	return func(r *Runner) {
		r.snapshots = src
	}
}

// Runner starts tasks in the background and drains them on shutdown.
type Runner struct {
	exec      Executor
	workDir   string
	logger    *zap.Logger
	snapshots SnapshotSource

	mu      sync.Mutex
	running map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewRunner creates a runner. Inline transcript artifacts are written below
// workDir/<task id>.
func NewRunner(exec Executor, workDir string, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		exec:       exec,
		workDir:    workDir,
		logger:     logger.Named("tasks"),
		running:    make(map[string]context.CancelFunc),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the transcript as a background task and returns its id.
// The transcript's task_id is used when set, otherwise a UUID.
func (r *Runner) Start(tr loop.Transcript) (string, error) {
	id, err := taskID(tr)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrShuttingDown
	}
	if _, exists := r.running[id]; exists {
		return "", fmt.Errorf("%w: %s", ErrTaskExists, id)
	}
	if r.known(id) {
		return "", fmt.Errorf("%w: %s has already reported progress", ErrTaskExists, id)
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	r.running[id] = cancel
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer r.forget(id)
		defer cancel()

		state, err := r.exec.Execute(ctx, id, tr.GroupChat(filepath.Join(r.workDir, id), r.logger))
		if err != nil {
			r.logger.Warn("task failed", zap.String("task.id", id), zap.Error(err))
			return
		}
		r.logger.Info("task done", zap.String("task.id", id), zap.String("status", string(state.Status)))
	}()

	return id, nil
}

// Run executes the transcript in the calling goroutine.
func (r *Runner) Run(ctx context.Context, tr loop.Transcript) (*orchestrator.TaskState, error) {
	id, err := taskID(tr)
	if err != nil {
		return nil, err
	}
	return r.exec.Execute(ctx, id, tr.GroupChat(filepath.Join(r.workDir, id), r.logger))
}

// Running returns the ids of tasks still executing, sorted.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cancel interrupts a running task. The task still publishes its final update.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.running[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown stops accepting tasks and waits for running ones. When ctx
// expires first, the remaining tasks are cancelled and awaited; they finalize
// quickly because planning observes the cancellation.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.baseCancel()
		return nil
	case <-ctx.Done():
		r.logger.Warn("shutdown deadline reached, cancelling tasks", zap.Strings("tasks", r.Running()))
		r.baseCancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) known(id string) bool {
	if r.snapshots == nil {
		return false
	}
	_, ok := r.snapshots.Snapshot(id)
	return ok
}

func (r *Runner) forget(id string) {
	r.mu.Lock()
	delete(r.running, id)
	r.mu.Unlock()
}

func taskID(tr loop.Transcript) (string, error) {
	if err := tr.Validate(); err != nil {
		return "", err
	}
	if tr.TaskID == "" {
		return uuid.NewString(), nil
	}
	if !taskIDPattern.MatchString(tr.TaskID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskID, tr.TaskID)
	}
	return tr.TaskID, nil
}
