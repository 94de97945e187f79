package progress

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/logging"
	"go.uber.org/zap"
)

// Logger wraps zap.Logger with aggregator-specific structured logging.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new Logger. If logger is nil, uses a no-op logger.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("progress")}
}

func (l *Logger) fields(ctx context.Context, taskID string, extra ...zap.Field) []zap.Field {
	fields := logging.ContextFields(ctx)
	if logging.TaskIDFromContext(ctx) == "" {
		fields = append(fields, zap.String("task.id", taskID))
	}
	return append(fields, extra...)
}

// Published logs an update at debug, or trace for heartbeats.
func (l *Logger) Published(ctx context.Context, u Update) {
	fields := l.fields(ctx, u.TaskID,
		zap.Float64("percentage", u.Percentage),
		zap.String("kind", u.Kind()),
	)
	switch u.Kind() {
	case KindHeartbeat:
		l.logger.Log(logging.TraceLevel, "heartbeat published", fields...)
	case KindFinal:
		l.logger.Info("final update published", fields...)
	default:
		l.logger.Debug("progress published", append(fields, zap.String("message", u.Message))...)
	}
}

// Suppressed logs a report that was deduplicated or rate limited.
func (l *Logger) Suppressed(ctx context.Context, taskID string, pct float64, reason string) {
	l.logger.Log(logging.TraceLevel, "progress suppressed",
		l.fields(ctx, taskID, zap.Float64("percentage", pct), zap.String("reason", reason))...)
}

// InvalidPercentage logs a rejected literal percentage.
func (l *Logger) InvalidPercentage(ctx context.Context, taskID string, value float64) {
	l.logger.Warn("rejected progress report with out-of-range percentage",
		l.fields(ctx, taskID, zap.Float64("percentage", value))...)
}

// AfterFinal logs a report for a task that is already final.
func (l *Logger) AfterFinal(ctx context.Context, taskID string) {
	l.logger.Debug("ignoring report for finalized task", l.fields(ctx, taskID)...)
}

// DuplicateFinal logs a repeated ReportFinal.
func (l *Logger) DuplicateFinal(ctx context.Context, taskID string) {
	l.logger.Info("task already finalized", l.fields(ctx, taskID)...)
}

// PublishFailed logs an update the publisher could not deliver.
func (l *Logger) PublishFailed(ctx context.Context, u Update, err error) {
	l.logger.Warn("dropping update after publish failure",
		l.fields(ctx, u.TaskID, zap.String("kind", u.Kind()), zap.Error(err))...)
}

func (l *Logger) HeartbeatStarted(ctx context.Context, taskID string, interval time.Duration) {
	l.logger.Debug("heartbeat started", l.fields(ctx, taskID, zap.Duration("interval", interval))...)
}

func (l *Logger) HeartbeatStopped(ctx context.Context, taskID, cause string) {
	l.logger.Debug("heartbeat stopped", l.fields(ctx, taskID, zap.String("cause", cause))...)
}
