package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "forgeline"

// StartCycleSpan starts a span for one planner cycle.
func StartCycleSpan(ctx context.Context, cycleID string, delegations int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "cycle",
		trace.WithAttributes(
			attribute.String("cycle.id", cycleID),
			attribute.Int("cycle.delegations", delegations),
		),
	)
}

// StartDelegationSpan starts a span for one delegation execution.
func StartDelegationSpan(ctx context.Context, traceID, agent string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "delegation",
		trace.WithAttributes(
			attribute.String("delegation.trace_id", traceID),
			attribute.String("delegation.agent", agent),
		),
	)
}

// StartPhaseSpan starts a span for one pipeline phase within a delegation.
func StartPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "phase."+phase,
		trace.WithAttributes(attribute.String("phase", phase)),
	)
}
