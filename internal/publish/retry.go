package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/config"
	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"go.uber.org/zap"
)

// RetryConfig configures retry behavior for publishes.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	// Default: 3
	MaxRetries int

	// InitialBackoff is the wait before the first retry.
	// Default: 50ms
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	// Default: 1s
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait after each retry.
	// Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigFrom converts the publish section of the configuration.
func RetryConfigFrom(cfg config.PublishConfig) *RetryConfig {
	rc := &RetryConfig{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff.Duration(),
		MaxBackoff:     cfg.MaxBackoff.Duration(),
	}
	rc.ApplyDefaults()
	return rc
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// Retrying retries failed publishes with exponential backoff.
type Retrying struct {
	next   progress.Publisher
	config *RetryConfig
	logger *zap.Logger
}

// NewRetrying wraps next. A nil config uses DefaultRetryConfig.
func NewRetrying(next progress.Publisher, cfg *RetryConfig, logger *zap.Logger) *Retrying {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, config: cfg, logger: logger.Named("publish")}
}

// Publish delivers u, retrying transient failures. Permanent errors and
// context cancellation stop retrying early.
func (r *Retrying) Publish(ctx context.Context, u progress.Update) error {
	var lastErr error
	backoff := r.config.InitialBackoff
	start := time.Now()
	attempts := 0

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		attempts++
		err := r.next.Publish(ctx, u)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("publish recovered after retries",
					zap.String("task.id", u.TaskID),
					zap.Int("attempts", attempts),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return nil
		}

		lastErr = err
		if IsPermanent(err) || attempt == r.config.MaxRetries {
			break
		}

		r.logger.Debug("retrying publish after transient error",
			zap.String("task.id", u.TaskID),
			zap.String("kind", u.Kind()),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", r.config.MaxRetries+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return &TransientPublishError{TaskID: u.TaskID, Kind: u.Kind(), Attempts: attempts, Err: fmt.Errorf("publish canceled: %w", ctx.Err())}
		case <-time.After(backoff):
			next := time.Duration(float64(backoff) * r.config.BackoffMultiplier)
			if next > r.config.MaxBackoff {
				next = r.config.MaxBackoff
			}
			backoff = next
		}
	}

	return &TransientPublishError{TaskID: u.TaskID, Kind: u.Kind(), Attempts: attempts, Err: lastErr}
}
