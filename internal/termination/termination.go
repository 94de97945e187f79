// Package termination decides when a bounded multi-actor loop must stop.
//
// Individual stop conditions implement Predicate. Compose combines them with
// OR semantics and records which one fired first as an immutable Outcome.
// Predicates are evaluated synchronously after every message and never block.
package termination

import "time"

// Message is one entry of a bounded loop's history.
type Message struct {
	Source  string `json:"source" yaml:"source"`
	Content string `json:"content" yaml:"content"`
}

// Reason identifies which predicate stopped a loop.
type Reason string

const (
	ReasonNone        Reason = "none"
	ReasonScore       Reason = "score"
	ReasonTimeout     Reason = "timeout"
	ReasonMaxMessages Reason = "max_messages"
)

// Predicate is a stop condition over a loop's message history.
//
// ShouldStop must not block and must treat any parse failure as "not fired".
type Predicate interface {
	Reason() Reason
	ShouldStop(history []Message) bool
}

// Outcome records the first firing of a composite predicate.
type Outcome struct {
	Fired                  bool          `json:"fired"`
	Reason                 Reason        `json:"reason"`
	TriggeringMessageIndex int           `json:"triggering_message_index"`
	Elapsed                time.Duration `json:"elapsed"`
}

// NotFired is the outcome of a composite that has not stopped its loop.
func NotFired() Outcome {
	return Outcome{Reason: ReasonNone, TriggeringMessageIndex: -1}
}

// Clock returns the current time. Tests replace it to control timeouts.
type Clock func() time.Time
