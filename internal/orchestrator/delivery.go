package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// delivery uploads every artifact concurrently. Individual failures become
// failed manifest entries; the phase itself always completes.
func (e *Executor) delivery(ctx context.Context, taskID string, planned PhaseContext) PhaseResult {
	started := time.Now()
	log := e.logger.With(zap.String("task.id", taskID), zap.String("phase", string(PhaseDelivery)))

	artifacts := planned.Artifacts
	e.report(ctx, log, taskID, progress.Literal(deliveryMilestone), fmt.Sprintf("delivering %d artifacts", len(artifacts)))

	manifest := make(Manifest, len(artifacts))

	var g errgroup.Group
	limit := e.phase.DeliveryConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, a := range artifacts {
		g.Go(func() error {
			manifest[i] = e.upload(ctx, log, taskID, a)
			return nil
		})
	}
	_ = g.Wait()

	failed := manifest.Count(ManifestFailed)
	if failed > 0 {
		log.Warn("some artifacts were not delivered", zap.Int("failed", failed), zap.Int("total", len(manifest)))
	}

	result := PhaseResult{
		Phase:       PhaseDelivery,
		Status:      StatusCompleted,
		Context:     planned,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	result.Context.Manifest = manifest
	return result
}

type uploadResult struct {
	url string
	err error
}

// upload stores one artifact under the per-upload timeout. A store that
// ignores its context is abandoned when the timeout fires.
func (e *Executor) upload(ctx context.Context, log *zap.Logger, taskID string, a LocalArtifact) ManifestEntry {
	entry := ManifestEntry{Name: a.Name, LocalPath: a.Path}

	if e.store == nil {
		entry.Status = ManifestFailed
		entry.Error = ErrNoArtifactStore.Error()
		return entry
	}

	timeout := e.phase.UploadTimeout()
	if timeout <= 0 {
		timeout = time.Minute
	}
	uctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan uploadResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- uploadResult{err: fmt.Errorf("artifact store panicked: %v", r)}
			}
		}()
		url, err := e.store.Store(uctx, taskID, a)
		ch <- uploadResult{url: url, err: err}
	}()

	var res uploadResult
	select {
	case res = <-ch:
	case <-uctx.Done():
		res.err = fmt.Errorf("upload abandoned: %w", uctx.Err())
	}

	if res.err != nil {
		entry.Status = ManifestFailed
		entry.Error = res.err.Error()
		log.Warn("artifact upload failed", zap.String("artifact", a.Name), zap.Error(res.err))
		return entry
	}
	entry.Status = ManifestOK
	entry.URL = res.url
	return entry
}
