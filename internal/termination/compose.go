package termination

import (
	"sync"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/config"
)

// Composite is the OR of its predicates. The first firing is recorded and
// every later evaluation reports true without re-running the predicates.
type Composite struct {
	preds   []Predicate
	start   time.Time
	now     Clock
	mu      sync.RWMutex
	outcome Outcome
}

// Compose combines predicates with OR semantics, evaluated in argument order.
// Nil predicates are skipped.
func Compose(preds ...Predicate) *Composite {
	return ComposeWithClock(time.Now, preds...)
}

// ComposeWithClock is Compose with an explicit clock for elapsed-time bookkeeping.
func ComposeWithClock(now Clock, preds ...Predicate) *Composite {
	kept := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Composite{preds: kept, start: now(), now: now, outcome: NotFired()}
}

// Reason returns the reason of the recorded firing, or ReasonNone.
func (c *Composite) Reason() Reason {
	return c.Outcome().Reason
}

// ShouldStop evaluates the predicates and records the first one that fires.
func (c *Composite) ShouldStop(history []Message) bool {
	c.mu.RLock()
	fired := c.outcome.Fired
	c.mu.RUnlock()
	if fired {
		return true
	}

	for _, p := range c.preds {
		if !p.ShouldStop(history) {
			continue
		}
		c.mu.Lock()
		if !c.outcome.Fired {
			c.outcome = Outcome{
				Fired:                  true,
				Reason:                 p.Reason(),
				TriggeringMessageIndex: len(history) - 1,
				Elapsed:                c.now().Sub(c.start),
			}
		}
		c.mu.Unlock()
		return true
	}
	return false
}

// Outcome returns the recorded outcome. Safe for concurrent use.
func (c *Composite) Outcome() Outcome {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.outcome
}

// Elapsed returns the time since the composite was built.
func (c *Composite) Elapsed() time.Duration {
	return c.now().Sub(c.start)
}

// FromConfig builds Compose(score, timeout, max messages) from configuration.
// The timeout window starts when FromConfig is called.
func FromConfig(cfg config.TerminationConfig, opts ...TimeoutOption) *Composite {
	timeout := NewTimeoutPredicate(cfg.LoopTimeout(), opts...)
	return ComposeWithClock(timeout.now,
		NewScorePredicate(cfg.ScoreThreshold, cfg.ReviewerSource),
		timeout,
		NewMaxMessagesPredicate(cfg.MaxMessages),
	)
}
