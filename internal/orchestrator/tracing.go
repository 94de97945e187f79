package orchestrator

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/taskrelay/internal/orchestrator"

// Tracer returns a tracer for the orchestrator package.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
