package termination

import (
	"strings"
	"time"
)

// ScorePredicate fires when the most recent message comes from the reviewing
// actor and reports a score strictly greater than the threshold.
type ScorePredicate struct {
	threshold    float64
	sourceFilter string
}

// NewScorePredicate creates a score predicate. An empty sourceFilter accepts
// any source; otherwise sources are compared case-insensitively.
func NewScorePredicate(threshold float64, sourceFilter string) *ScorePredicate {
	return &ScorePredicate{threshold: threshold, sourceFilter: strings.TrimSpace(sourceFilter)}
}

func (p *ScorePredicate) Reason() Reason { return ReasonScore }

func (p *ScorePredicate) ShouldStop(history []Message) bool {
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	if p.sourceFilter != "" && !strings.EqualFold(strings.TrimSpace(last.Source), p.sourceFilter) {
		return false
	}
	score, ok := ExtractScore(last.Content)
	return ok && score > p.threshold
}

// TimeoutPredicate fires once more than the configured duration has elapsed
// since it was constructed.
type TimeoutPredicate struct {
	limit time.Duration
	start time.Time
	now   Clock
}

// TimeoutOption configures a TimeoutPredicate.
type TimeoutOption func(*TimeoutPredicate)

// WithClock replaces time.Now. The start time is read from the clock at construction.
func WithClock(c Clock) TimeoutOption {
	return func(p *TimeoutPredicate) { p.now = c }
}

// NewTimeoutPredicate creates a timeout predicate whose window starts now.
func NewTimeoutPredicate(limit time.Duration, opts ...TimeoutOption) *TimeoutPredicate {
	p := &TimeoutPredicate{limit: limit, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	p.start = p.now()
	return p
}

func (p *TimeoutPredicate) Reason() Reason { return ReasonTimeout }

func (p *TimeoutPredicate) ShouldStop([]Message) bool {
	return p.Elapsed() > p.limit
}

// Elapsed returns the time since construction.
func (p *TimeoutPredicate) Elapsed() time.Duration {
	return p.now().Sub(p.start)
}

// MaxMessagesPredicate fires once the history holds at least n messages.
type MaxMessagesPredicate struct {
	n int
}

// NewMaxMessagesPredicate creates a message-count circuit breaker.
func NewMaxMessagesPredicate(n int) *MaxMessagesPredicate {
	return &MaxMessagesPredicate{n: n}
}

func (p *MaxMessagesPredicate) Reason() Reason { return ReasonMaxMessages }

func (p *MaxMessagesPredicate) ShouldStop(history []Message) bool {
	return len(history) >= p.n
}
