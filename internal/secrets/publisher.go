package secrets

import (
	"context"

	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"go.uber.org/zap"
)

// Publisher scrubs updates before handing them to the next publisher.
type Publisher struct {
	next     progress.Publisher
	scrubber *Scrubber
	logger   *zap.Logger
}

// NewPublisher wraps next. A nil or disabled scrubber passes updates through.
func NewPublisher(next progress.Publisher, scrubber *Scrubber, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{next: next, scrubber: scrubber, logger: logger}
}

// Publish implements progress.Publisher.
func (p *Publisher) Publish(ctx context.Context, u progress.Update) error {
	if p.scrubber.IsEnabled() {
		var rules []string
		u.Message, rules = p.scrubber.Scrub(u.Message)
		if s, ok := u.Payload.(string); ok {
			var more []string
			u.Payload, more = p.scrubber.Scrub(s)
			rules = append(rules, more...)
		}
		if len(rules) > 0 {
			// Rule ids only; the matched text must not reach the logs either.
			p.logger.Warn("redacted secrets from update",
				zap.String("task_id", u.TaskID),
				zap.String("kind", u.Kind()),
				zap.Strings("rules", rules))
		}
	}
	return p.next.Publish(ctx, u)
}
