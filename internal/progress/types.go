package progress

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Percentage is either Auto() or a Literal value in [0,1].
// The zero value is Literal(0).
type Percentage struct {
	auto  bool
	value float64
}

// Auto asks the aggregator to advance from the current maximum.
func Auto() Percentage { return Percentage{auto: true} }

// Literal requests an exact percentage. Values below the current maximum are clamped up.
func Literal(v float64) Percentage { return Percentage{value: v} }

// IsAuto reports whether p is Auto().
func (p Percentage) IsAuto() bool { return p.auto }

// Value returns the literal value, or false for Auto().
func (p Percentage) Value() (float64, bool) {
	if p.auto {
		return 0, false
	}
	return p.value, true
}

func (p Percentage) String() string {
	if p.auto {
		return "auto"
	}
	return fmt.Sprintf("%.2f", p.value)
}

func (p Percentage) valid() bool {
	return p.auto || (!math.IsNaN(p.value) && p.value >= 0 && p.value <= 1)
}

// Update kinds, used for metrics and transport routing.
const (
	KindProgress  = "progress"
	KindHeartbeat = "heartbeat"
	KindFinal     = "final"
)

// Update is one message on the publish channel.
type Update struct {
	TaskID     string    `json:"task_id"`
	Percentage float64   `json:"percentage"`
	Message    string    `json:"message"`
	Payload    any       `json:"payload,omitempty"`
	IsFinal    bool      `json:"is_final"`
	Heartbeat  bool      `json:"heartbeat"`
	Timestamp  time.Time `json:"timestamp"`
}

// Kind classifies the update as progress, heartbeat or final.
func (u Update) Kind() string {
	switch {
	case u.IsFinal:
		return KindFinal
	case u.Heartbeat:
		return KindHeartbeat
	default:
		return KindProgress
	}
}

// Publisher delivers updates to observers. Implementations may fail; the
// aggregator logs and drops residual errors.
type Publisher interface {
	Publish(ctx context.Context, u Update) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, u Update) error

func (f PublisherFunc) Publish(ctx context.Context, u Update) error { return f(ctx, u) }

// Snapshot is a read-only copy of a task's progress state.
type Snapshot struct {
	TaskID          string    `json:"task_id"`
	Percentage      float64   `json:"percentage"`
	Message         string    `json:"message"`
	Final           bool      `json:"is_final"`
	Payload         any       `json:"payload,omitempty"`
	HeartbeatActive bool      `json:"heartbeat_active"`
	Published       int       `json:"published"`
	LastPublishedAt time.Time `json:"last_published_at,omitempty"`
}
