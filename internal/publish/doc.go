// Package publish delivers progress updates to observers over NATS.
//
// Updates for a task go to <prefix>.tasks.<task_id>.progress, or to
// <prefix>.tasks.<task_id>.final for the terminal update. Heartbeats share the
// progress subject and are told apart by the heartbeat flag of the payload.
//
// NATSPublisher paces outgoing messages with a token bucket. Retrying wraps
// any progress.Publisher with bounded exponential backoff and turns the
// residual error into a *TransientPublishError.
package publish
