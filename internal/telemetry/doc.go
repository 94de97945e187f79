// Package telemetry provides OpenTelemetry tracing and metrics for taskrelay.
//
// Each task execution is a span ("taskrelay.task") with one child span per
// phase. Metrics are pushed over OTLP (gRPC or HTTP) when enabled; the
// Prometheus scrape endpoint served by the HTTP package is independent of this.
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx, span := tel.Tracer("taskrelay.orchestrator").Start(ctx, "taskrelay.task")
//	defer span.End()
//
// Tests use NewTestTelemetry, which records spans in memory and exposes a
// manual metric reader.
package telemetry
