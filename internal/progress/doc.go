// Package progress turns unordered, redundant progress reports into a public
// status stream per task.
//
// For a fixed task id the Aggregator guarantees:
//   - published percentages never decrease (literal values below the current
//     maximum are absorbed, Auto() advances from the maximum);
//   - identical (rounded percentage, message) pairs are not republished;
//   - a heartbeat republishes the last status while the task is live;
//   - exactly one final update is published, and nothing follows it.
//
// All publishes for a task happen while holding that task's mutex, which is
// what makes the final update strictly last.
//
// # Usage
//
//	agg := progress.New(publisher, cfg, progress.WithLogger(zapLogger))
//	defer agg.Close(ctx)
//
//	agg.Report(ctx, taskID, progress.Literal(0), "planning", nil)
//	agg.Report(ctx, taskID, progress.Auto(), "reviewer submitted a score", nil)
//	agg.ReportFinal(ctx, taskID, response)
package progress
