// Package orchestrator runs a task through its phases and guarantees a single
// terminal update.
//
// # Overview
//
// Every task moves through a fixed sequence of phases:
//
//	Planning_Execution → Delivery → Presentation → Done
//
// Transitions are strictly sequential and enforced by TaskState.CanTransition.
// No phase is re-entered once exited.
//
// # Phases
//
// ## Planning_Execution
//
// The bounded loop runs in its own goroutine under a termination composite
// (see package termination). Its completion is raced against the coarser
// phase.outer_deadline_seconds. When the deadline wins, the loop is left
// running, its accumulated messages and artifacts are snapshotted, and the
// phase ends timed_out. A loop error or panic ends the phase failed. Neither
// case stops the task.
//
// ## Delivery
//
// Artifacts are uploaded concurrently through the ArtifactStore, at most
// phase.delivery_concurrency at a time and each bounded by
// phase.upload_timeout_seconds. The phase always produces a Manifest in
// artifact order; failed uploads are entries with status "failed".
//
// ## Presentation
//
// The Presenter turns the phase results into the final payload. Its error is
// the only one that marks a task failed (*PhaseFatalError). The final update
// then carries an ErrorPayload.
//
// # Progress
//
// The executor publishes milestones through its Reporter: 0.0 when planning
// starts, 0.94 at delivery, 0.97 at presentation, and the final update. Loop
// messages classified as interesting by package classify produce auto-advance
// reports in between.
//
// # Usage Example
//
//	agg := progress.New(publisher, cfg)
//	exec := orchestrator.NewExecutor(agg, artifact.NewFileStore(dir), cfg,
//	    orchestrator.WithLogger(logger),
//	)
//	state, err := exec.Execute(ctx, taskID, loop)
//
// # Metrics
//
// Prometheus collectors are registered once per process (see NewMetrics):
// taskrelay_tasks_total, taskrelay_phase_duration_seconds,
// taskrelay_artifacts_delivered_total and taskrelay_termination_total.
package orchestrator
