package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/classify"
	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"github.com/fyrsmithlabs/taskrelay/internal/termination"
	"go.uber.org/zap"
)

// accumulator collects loop output. Once sealed it drops everything, so a
// loop abandoned at the deadline cannot change what later phases see.
type accumulator struct {
	mu        sync.Mutex
	sealed    bool
	messages  []termination.Message
	artifacts []LocalArtifact

	// onMessage runs under mu so no progress report from the loop can be
	// published after seal returns.
	onMessage func(termination.Message)
}

func (a *accumulator) Message(msg termination.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return
	}
	a.messages = append(a.messages, msg)
	if a.onMessage != nil {
		a.onMessage(msg)
	}
}

func (a *accumulator) Artifact(art LocalArtifact) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return
	}
	a.artifacts = append(a.artifacts, art)
}

// seal stops accepting output and returns a copy of what was collected.
func (a *accumulator) seal() PhaseContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = true
	return PhaseContext{
		Messages:  append([]termination.Message(nil), a.messages...),
		Artifacts: append([]LocalArtifact(nil), a.artifacts...),
	}
}

// planning runs the loop in its own goroutine and races it against the
// outer deadline. The loop runs under loopCtx, which outlives this phase.
func (e *Executor) planning(ctx, loopCtx context.Context, taskID string, loop Loop) PhaseResult {
	started := time.Now()
	log := e.logger.With(zap.String("task.id", taskID), zap.String("phase", string(PhasePlanningExecution)))

	stop := e.newStop()
	acc := &accumulator{
		onMessage: func(msg termination.Message) {
			kind := classify.Classify(msg.Content)
			if kind.Interesting() {
				e.report(ctx, log, taskID, progress.Auto(), kind.Describe(msg.Source))
			}
		},
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: panic: %v", ErrLoopFailed, r)
			}
		}()
		if loop == nil {
			done <- fmt.Errorf("%w: no loop given", ErrLoopFailed)
			return
		}
		if err := loop.Run(loopCtx, stop, acc); err != nil {
			done <- fmt.Errorf("%w: %w", ErrLoopFailed, err)
			return
		}
		done <- nil
	}()

	deadline := e.phase.OuterDeadline()
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	result := PhaseResult{Phase: PhasePlanningExecution, StartedAt: started}

	select {
	case err := <-done:
		result.Context = acc.seal()
		result.Context.Outcome = stop.Outcome()
		if err != nil {
			result.Status = StatusFailed
			result.Err = err
			log.Warn("loop failed, continuing with partial context",
				zap.Error(err),
				zap.Int("messages", len(result.Context.Messages)),
				zap.Int("artifacts", len(result.Context.Artifacts)),
			)
		} else {
			result.Status = StatusCompleted
			log.Info("loop finished",
				zap.String("reason", string(result.Context.Outcome.Reason)),
				zap.Int("messages", len(result.Context.Messages)),
			)
		}

	case <-timer.C:
		result.Context = acc.seal()
		result.Context.Outcome = stop.Outcome()
		result.Status = StatusTimedOut
		result.Err = &PhaseTimeoutError{
			Phase:     PhasePlanningExecution,
			Deadline:  deadline,
			Elapsed:   time.Since(started),
			Messages:  len(result.Context.Messages),
			Artifacts: len(result.Context.Artifacts),
		}
		log.Warn("outer deadline reached, abandoning loop", zap.Error(result.Err))

	case <-ctx.Done():
		result.Context = acc.seal()
		result.Context.Outcome = stop.Outcome()
		result.Status = StatusFailed
		result.Err = fmt.Errorf("planning interrupted: %w", ctx.Err())
		log.Warn("task context done during planning", zap.Error(ctx.Err()))
	}

	result.CompletedAt = time.Now()
	return result
}
