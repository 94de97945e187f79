// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry via the otelzap bridge)
//   - Automatic context field injection (trace_id, task.id, phase, request.id)
//   - Secret redaction at the encoder
//   - Sampling below error level
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithTaskID(ctx, "task-42")
//	ctx = logging.WithPhase(ctx, "delivery")
//	logger.Info(ctx, "artifact stored", zap.String("url", u))
//
// Output:
//
//	{"ts":"2026-10-17T10:15:30Z","level":"info","msg":"artifact stored",
//	 "service":"taskrelay","task.id":"task-42","phase":"delivery","url":"file:///..."}
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertField(t, "test message", "key", "value")
package logging
