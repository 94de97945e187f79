package progress

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/taskrelay/internal/progress"

// Metrics provides OpenTelemetry metrics for the aggregator.
type Metrics struct {
	publishedTotal   metric.Int64Counter
	suppressedTotal  metric.Int64Counter
	failuresTotal    metric.Int64Counter
	activeHeartbeats metric.Int64UpDownCounter

	initialized bool
}

// NewMetrics creates metrics on meter. A nil meter uses the global provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.publishedTotal, err = meter.Int64Counter(
		"taskrelay.progress.published.total",
		metric.WithDescription("Updates handed to the publisher"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, err
	}

	m.suppressedTotal, err = meter.Int64Counter(
		"taskrelay.progress.suppressed.total",
		metric.WithDescription("Reports that did not produce an update"),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		return nil, err
	}

	m.failuresTotal, err = meter.Int64Counter(
		"taskrelay.progress.publish_failures.total",
		metric.WithDescription("Updates dropped after the publisher gave up"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, err
	}

	m.activeHeartbeats, err = meter.Int64UpDownCounter(
		"taskrelay.progress.active_heartbeats",
		metric.WithDescription("Heartbeats currently running"),
		metric.WithUnit("{heartbeat}"),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordPublished counts a delivered update of the given kind.
func (m *Metrics) RecordPublished(ctx context.Context, kind string) {
	if m == nil || !m.initialized {
		return
	}
	m.publishedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSuppressed counts a report that was not published.
func (m *Metrics) RecordSuppressed(ctx context.Context, reason string) {
	if m == nil || !m.initialized {
		return
	}
	m.suppressedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordPublishFailure counts an update the publisher failed to deliver.
func (m *Metrics) RecordPublishFailure(ctx context.Context, kind string) {
	if m == nil || !m.initialized {
		return
	}
	m.failuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RecordHeartbeatStarted(ctx context.Context) {
	if m == nil || !m.initialized {
		return
	}
	m.activeHeartbeats.Add(ctx, 1)
}

func (m *Metrics) RecordHeartbeatStopped(ctx context.Context) {
	if m == nil || !m.initialized {
		return
	}
	m.activeHeartbeats.Add(ctx, -1)
}
