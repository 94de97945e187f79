package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/config"
	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const finalFlushTimeout = 2 * time.Second

// Connect dials NATS with reconnect handling taken from cfg.
func Connect(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("taskrelay"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait.Duration()),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Subject returns the subject an update of the given kind is published on.
func Subject(prefix, taskID, kind string) (string, error) {
	if !validToken(taskID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskID, taskID)
	}
	suffix := "progress"
	if kind == progress.KindFinal {
		suffix = "final"
	}
	return prefix + ".tasks." + taskID + "." + suffix, nil
}

// TaskSubjects returns the wildcard subject covering every update of a task.
func TaskSubjects(prefix, taskID string) (string, error) {
	if !validToken(taskID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskID, taskID)
	}
	return prefix + ".tasks." + taskID + ".*", nil
}

// validToken rejects ids that would change the subject hierarchy.
func validToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, ".*> \t\r\n")
}

// NATSPublisher publishes updates as JSON on per-task subjects.
type NATSPublisher struct {
	nc      *nats.Conn
	prefix  string
	limiter *rate.Limiter
}

// NewNATSPublisher creates a publisher on nc. Outgoing messages are paced by
// pub.PerSecond with a burst of pub.Burst; a non-positive rate disables pacing.
func NewNATSPublisher(nc *nats.Conn, prefix string, pub config.PublishConfig) *NATSPublisher {
	limit := rate.Inf
	if pub.PerSecond > 0 {
		limit = rate.Limit(pub.PerSecond)
	}
	burst := pub.Burst
	if burst <= 0 {
		burst = 1
	}
	return &NATSPublisher{nc: nc, prefix: prefix, limiter: rate.NewLimiter(limit, burst)}
}

// Publish implements progress.Publisher. Final updates are flushed so the
// terminal message leaves the process before Publish returns.
func (p *NATSPublisher) Publish(ctx context.Context, u progress.Update) error {
	if p.nc == nil || p.nc.IsClosed() {
		return ErrNoConnection
	}

	subject, err := Subject(p.prefix, u.TaskID, u.Kind())
	if err != nil {
		return Permanent(err)
	}
	data, err := json.Marshal(u)
	if err != nil {
		return Permanent(fmt.Errorf("marshal update: %w", err))
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing publish: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	if u.IsFinal {
		if err := p.nc.FlushTimeout(finalFlushTimeout); err != nil {
			return fmt.Errorf("flush final update: %w", err)
		}
	}
	return nil
}
