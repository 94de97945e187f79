package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"github.com/nats-io/nats.go"
)

const subscriptionBuffer = 64

// Subscription streams the updates of one task.
type Subscription struct {
	sub *nats.Subscription
	ch  chan *nats.Msg
}

// Subscribe listens for every update of taskID.
func Subscribe(nc *nats.Conn, prefix, taskID string) (*Subscription, error) {
	if nc == nil {
		return nil, ErrNoConnection
	}
	subject, err := TaskSubjects(prefix, taskID)
	if err != nil {
		return nil, err
	}

	ch := make(chan *nats.Msg, subscriptionBuffer)
	sub, err := nc.ChanSubscribe(subject, ch)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return &Subscription{sub: sub, ch: ch}, nil
}

// Messages exposes the raw message channel for select loops.
func (s *Subscription) Messages() <-chan *nats.Msg {
	return s.ch
}

// Next blocks until the next update arrives or ctx is done.
func (s *Subscription) Next(ctx context.Context) (progress.Update, error) {
	select {
	case <-ctx.Done():
		return progress.Update{}, ctx.Err()
	case msg := <-s.ch:
		return DecodeUpdate(msg.Data)
	}
}

// Close unsubscribes.
func (s *Subscription) Close() error {
	return s.sub.Unsubscribe()
}

// DecodeUpdate parses the JSON form of an update.
func DecodeUpdate(data []byte) (progress.Update, error) {
	var u progress.Update
	if err := json.Unmarshal(data, &u); err != nil {
		return progress.Update{}, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}
