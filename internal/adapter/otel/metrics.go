package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "forgeline"

// Metrics holds all Forgeline metric instruments.
type Metrics struct {
	DelegationsReceived metric.Int64Counter
	DelegationsApproved metric.Int64Counter
	DelegationsRejected metric.Int64Counter
	DelegationsBlocked  metric.Int64Counter
	ChangesApplied      metric.Int64Counter
	ChangesFailed       metric.Int64Counter
	ChangesPending      metric.Int64Counter
	CorrectionRounds    metric.Int64Histogram
	TokensUsed          metric.Int64Counter
	ExecutionDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.DelegationsReceived, err = meter.Int64Counter("forgeline.delegations.received",
		metric.WithDescription("Number of delegations received from the planner"))
	if err != nil {
		return nil, err
	}

	m.DelegationsApproved, err = meter.Int64Counter("forgeline.delegations.approved",
		metric.WithDescription("Number of delegations admitted for execution"))
	if err != nil {
		return nil, err
	}

	m.DelegationsRejected, err = meter.Int64Counter("forgeline.delegations.rejected",
		metric.WithDescription("Number of delegations rejected by admission control"))
	if err != nil {
		return nil, err
	}

	m.DelegationsBlocked, err = meter.Int64Counter("forgeline.delegations.blocked",
		metric.WithDescription("Number of delegations blocked by the budget gate"))
	if err != nil {
		return nil, err
	}

	m.ChangesApplied, err = meter.Int64Counter("forgeline.changes.applied",
		metric.WithDescription("Number of code changes applied to the workspace"))
	if err != nil {
		return nil, err
	}

	m.ChangesFailed, err = meter.Int64Counter("forgeline.changes.failed",
		metric.WithDescription("Number of code changes that failed"))
	if err != nil {
		return nil, err
	}

	m.ChangesPending, err = meter.Int64Counter("forgeline.changes.pending_approval",
		metric.WithDescription("Number of code changes routed to human approval"))
	if err != nil {
		return nil, err
	}

	m.CorrectionRounds, err = meter.Int64Histogram("forgeline.correction.rounds",
		metric.WithDescription("Correction rounds used per change"))
	if err != nil {
		return nil, err
	}

	m.TokensUsed, err = meter.Int64Counter("forgeline.llm.tokens",
		metric.WithDescription("LLM tokens consumed"))
	if err != nil {
		return nil, err
	}

	m.ExecutionDuration, err = meter.Float64Histogram("forgeline.execution.duration_seconds",
		metric.WithDescription("Delegation execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
