package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"go.uber.org/zap"
)

// presentation assembles the final payload. A presenter error or panic
// yields a failed result, which Execute turns into a *PhaseFatalError.
func (e *Executor) presentation(ctx context.Context, in PresentationInput) (any, PhaseResult) {
	started := time.Now()
	log := e.logger.With(zap.String("task.id", in.TaskID), zap.String("phase", string(PhasePresentation)))

	e.report(ctx, log, in.TaskID, progress.Literal(presentationMilestone), "preparing response")

	result := PhaseResult{
		Phase:     PhasePresentation,
		Context:   in.Delivery.Context,
		StartedAt: started,
	}

	payload, err := e.present(ctx, in)
	result.CompletedAt = time.Now()
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		log.Error("presentation failed", zap.Error(err))
		return nil, result
	}
	result.Status = StatusCompleted
	return payload, result
}

func (e *Executor) present(ctx context.Context, in PresentationInput) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("presenter panicked: %v", r)
		}
	}()
	if e.presenter == nil {
		return DefaultPresenter{}.Present(ctx, in)
	}
	return e.presenter.Present(ctx, in)
}

// DefaultPresenter builds a Response from the phase results.
type DefaultPresenter struct{}

// Present implements Presenter.
func (DefaultPresenter) Present(_ context.Context, in PresentationInput) (any, error) {
	manifest := in.Delivery.Context.Manifest
	outcome := in.Planning.Context.Outcome
	degraded := in.Planning.Status != StatusCompleted || manifest.Count(ManifestFailed) > 0

	status := StatusCompleted
	if degraded {
		status = StatusDegraded
	}

	return Response{
		TaskID:       in.TaskID,
		Status:       status,
		Reason:       outcome.Reason,
		Summary:      summarize(in.Planning, manifest),
		Artifacts:    manifest,
		MessageCount: len(in.Planning.Context.Messages),
		Degraded:     degraded,
	}, nil
}

func summarize(planning PhaseResult, manifest Manifest) string {
	var b strings.Builder
	switch planning.Status {
	case StatusTimedOut:
		fmt.Fprintf(&b, "loop abandoned at deadline after %d messages", len(planning.Context.Messages))
	case StatusFailed:
		fmt.Fprintf(&b, "loop failed after %d messages", len(planning.Context.Messages))
	default:
		fmt.Fprintf(&b, "loop stopped (%s) after %d messages", planning.Context.Outcome.Reason, len(planning.Context.Messages))
	}
	fmt.Fprintf(&b, "; %d/%d artifacts delivered", manifest.Count(ManifestOK), len(manifest))
	return b.String()
}
