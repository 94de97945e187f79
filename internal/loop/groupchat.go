package loop

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/taskrelay/internal/orchestrator"
	"github.com/fyrsmithlabs/taskrelay/internal/termination"
	"go.uber.org/zap"
)

// ErrActorExhausted is returned by an actor that has nothing left to say.
var ErrActorExhausted = errors.New("actor has no more turns")

// Turn is one actor response.
type Turn struct {
	Content   string
	Artifacts []orchestrator.LocalArtifact
}

// Actor takes part in a GroupChat.
type Actor interface {
	Name() string
	Respond(ctx context.Context, history []termination.Message) (Turn, error)
}

// GroupChat runs actors in round-robin order until the stop predicate fires,
// every actor is exhausted, or the context is done.
type GroupChat struct {
	actors []Actor
	logger *zap.Logger
}

// NewGroupChat creates a chat. A nil logger disables logging.
func NewGroupChat(logger *zap.Logger, actors ...Actor) *GroupChat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupChat{actors: actors, logger: logger.Named("loop")}
}

// Run implements orchestrator.Loop.
func (g *GroupChat) Run(ctx context.Context, stop termination.Predicate, sink orchestrator.Sink) error {
	if len(g.actors) == 0 {
		return errors.New("group chat has no actors")
	}

	var history []termination.Message
	exhausted := make(map[int]bool, len(g.actors))

	for turn := 0; ; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(exhausted) == len(g.actors) {
			g.logger.Debug("all actors exhausted", zap.Int("messages", len(history)))
			return nil
		}

		idx := turn % len(g.actors)
		if exhausted[idx] {
			continue
		}
		actor := g.actors[idx]

		resp, err := actor.Respond(ctx, history)
		if errors.Is(err, ErrActorExhausted) {
			exhausted[idx] = true
			continue
		}
		if err != nil {
			return fmt.Errorf("actor %s: %w", actor.Name(), err)
		}

		for _, a := range resp.Artifacts {
			sink.Artifact(a)
		}

		msg := termination.Message{Source: actor.Name(), Content: resp.Content}
		history = append(history, msg)
		sink.Message(msg)

		if stop != nil && stop.ShouldStop(history) {
			g.logger.Debug("stop predicate fired",
				zap.String("reason", string(stop.Reason())),
				zap.Int("messages", len(history)),
			)
			return nil
		}
	}
}
