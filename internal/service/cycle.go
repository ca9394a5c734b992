package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	fotel "github.com/forgeline/forgeline/internal/adapter/otel"
	"github.com/forgeline/forgeline/internal/domain"
	"github.com/forgeline/forgeline/internal/domain/decision"
	"github.com/forgeline/forgeline/internal/domain/delegation"
	"github.com/forgeline/forgeline/internal/domain/outcome"
	"github.com/forgeline/forgeline/internal/logger"
	"github.com/forgeline/forgeline/internal/port/database"
	"github.com/forgeline/forgeline/internal/port/llm"
)

// maxStoredOutput caps how much executor output lands in the outcomes table.
const maxStoredOutput = 16 * 1024

// CycleService consumes planner batches and drives them through admission,
// budgeting, execution and persistence.
type CycleService struct {
	registry *Registry
	budget   *BudgetService
	feedback *FeedbackService
	store    database.Store
	events   *EventRecorder
	metrics  *fotel.Metrics

	maxApproved   int
	perTaskTokens int
	now           func() time.Time
}

// NewCycleService creates a CycleService.
func NewCycleService(registry *Registry, budget *BudgetService, feedback *FeedbackService,
	store database.Store, events *EventRecorder, metrics *fotel.Metrics,
	maxApproved, perTaskTokens int) *CycleService {
	return &CycleService{
		registry:      registry,
		budget:        budget,
		feedback:      feedback,
		store:         store,
		events:        events,
		metrics:       metrics,
		maxApproved:   maxApproved,
		perTaskTokens: perTaskTokens,
		now:           time.Now,
	}
}

// HandleBatch is the planner.cycle subscription handler. A malformed batch
// is logged and dropped; redelivery cannot repair it.
func (s *CycleService) HandleBatch(ctx context.Context, _ string, data []byte) error {
	batch, err := delegation.ParseBatch(data)
	if err != nil {
		slog.Error("planner batch rejected", "error", err)
		return nil
	}
	s.RunCycle(ctx, batch)
	return nil
}

// RunCycle executes one admission cycle. Individual delegation failures
// never surface as errors here; the cycle always runs to completion.
func (s *CycleService) RunCycle(ctx context.Context, batch *delegation.Batch) {
	cycleID := uuid.NewString()
	ctx, span := fotel.StartCycleSpan(ctx, cycleID, len(batch.Delegations))
	defer span.End()

	log := slog.With("cycle_id", cycleID)
	log.Info("cycle started",
		"delegations", len(batch.Delegations),
		"decisions_needed", len(batch.DecisionsNeeded),
		"tasks_killed", len(batch.TasksKilled),
	)
	if s.metrics != nil {
		s.metrics.DelegationsReceived.Add(ctx, int64(len(batch.Delegations)))
	}

	adjusted := make([]delegation.Delegation, len(batch.Delegations))
	for i, d := range batch.Delegations {
		adj := s.feedback.Adjustment(ctx, d.Agent, taskType(d))
		adjusted[i] = d.Adjusted(adj)
	}

	result := decision.Filter(adjusted, s.maxApproved)
	log.Info("admission decided",
		"approved", len(result.Approved),
		"needs_approval", len(result.NeedsApproval),
		"rejected", len(result.Rejected),
	)

	for _, rej := range result.Rejected {
		if s.metrics != nil {
			s.metrics.DelegationsRejected.Add(ctx, 1)
		}
		s.events.Emit(ctx, cycleID, string(rej.Delegation.Agent), "delegation.rejected", "",
			rej.Reason, outcome.LevelInfo)
	}

	// Needs-approval delegations are parked for human triage, not executed.
	for _, d := range result.NeedsApproval {
		s.events.Emit(ctx, cycleID, string(d.Agent), "delegation.needs_approval", "",
			fmt.Sprintf("risk %d cost %d: %s", d.Metrics.Risk, d.Metrics.Cost, firstLine(d.Task)),
			outcome.LevelWarn)
	}

	for _, queue := range groupByAgent(result.Approved) {
		s.runQueue(ctx, queue)
	}

	log.Info("cycle finished")
}

// runQueue processes one agent's approved delegations sequentially. The
// first failure abandons the rest of that agent's queue; budget denials do
// not.
func (s *CycleService) runQueue(ctx context.Context, queue []delegation.Delegation) {
	for i, d := range queue {
		status := s.runDelegation(ctx, d)
		if status == outcome.StatusFailed || status == outcome.StatusInfraUnavailable {
			for _, skipped := range queue[i+1:] {
				s.events.Emit(ctx, "", string(skipped.Agent), "delegation.skipped", "",
					"previous delegation for this agent failed", outcome.LevelWarn)
			}
			return
		}
	}
}

// runDelegation takes one delegation through budget, execution and
// persistence, and returns the outcome status.
func (s *CycleService) runDelegation(ctx context.Context, d delegation.Delegation) outcome.Status {
	traceID := uuid.NewString()
	ctx, span := fotel.StartDelegationSpan(ctx, traceID, string(d.Agent))
	defer span.End()

	log := logger.WithTrace(slog.Default(), traceID).With("agent", d.Agent)
	start := s.now()

	estimate := s.estimateTokens(d)
	verdict, err := s.budget.Check(ctx, string(d.Agent), estimate)
	if err != nil {
		log.Error("budget check failed", "error", err)
		s.record(ctx, d, traceID, &ExecutionOutput{Status: outcome.StatusInfraUnavailable}, err, start)
		return outcome.StatusInfraUnavailable
	}
	if !verdict.Allowed {
		log.Warn("delegation blocked by budget", "reason", verdict.Reason)
		if s.metrics != nil {
			s.metrics.DelegationsBlocked.Add(ctx, 1)
		}
		s.record(ctx, d, traceID, &ExecutionOutput{Status: outcome.StatusBlocked},
			fmt.Errorf("%w: %s", domain.ErrBudgetExceeded, verdict.Reason), start)
		return outcome.StatusBlocked
	}

	executor, err := s.registry.Lookup(d.Agent)
	if err != nil {
		log.Error("dispatch failed", "error", err)
		s.record(ctx, d, traceID, &ExecutionOutput{Status: outcome.StatusFailed}, err, start)
		return outcome.StatusFailed
	}

	if s.metrics != nil {
		s.metrics.DelegationsApproved.Add(ctx, 1)
	}
	s.events.Emit(ctx, traceID, string(d.Agent), "delegation.started", "", firstLine(d.Task), outcome.LevelInfo)

	out, execErr := executor.Execute(ctx, d, traceID)
	if execErr != nil {
		status := outcome.StatusFailed
		if errors.Is(execErr, llm.ErrUnavailable) {
			status = outcome.StatusInfraUnavailable
		}
		log.Error("delegation failed", "status", status, "error", execErr)
		s.record(ctx, d, traceID, &ExecutionOutput{Status: status}, execErr, start)
		return status
	}

	if out.TokensUsed > 0 {
		if err := s.budget.Record(ctx, string(d.Agent), out.TokensUsed); err != nil {
			log.Error("budget record failed", "error", err)
		}
		if s.metrics != nil {
			s.metrics.TokensUsed.Add(ctx, int64(out.TokensUsed))
		}
	}

	log.Info("delegation finished", "status", out.Status, "tokens", out.TokensUsed)
	s.record(ctx, d, traceID, out, nil, start)
	return out.Status
}

// record persists the result, the unconditional audit digest, and the
// feedback sample where the outcome says something about the agent.
func (s *CycleService) record(ctx context.Context, d delegation.Delegation, traceID string,
	out *ExecutionOutput, execErr error, start time.Time) {

	elapsed := s.now().Sub(start)
	errMsg := ""
	if execErr != nil {
		errMsg = truncateErr(execErr.Error())
	}

	res := &outcome.ExecutionResult{
		ID:              uuid.NewString(),
		TraceID:         traceID,
		Agent:           string(d.Agent),
		Task:            d.Task,
		GoalID:          d.GoalID,
		Status:          out.Status,
		Output:          truncateOutput(out.Output),
		Error:           errMsg,
		TokensUsed:      out.TokensUsed,
		ExecutionTimeMs: elapsed.Milliseconds(),
		ArtifactBytes:   out.ArtifactBytes,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.CreateResult(ctx, res); err != nil {
		slog.Error("result write failed", "trace_id", traceID, "error", err)
	}

	audit := &outcome.Audit{
		TraceID:    traceID,
		Agent:      string(d.Agent),
		InputHash:  outcome.Digest(d.Task),
		OutputHash: outcome.Digest(out.Output + errMsg),
		Status:     out.Status,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateAudit(ctx, audit); err != nil {
		slog.Error("audit write failed", "trace_id", traceID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.ExecutionDuration.Record(ctx, elapsed.Seconds())
	}

	// Blocked and infra outcomes say nothing about the agent, so they are
	// excluded from feedback sampling.
	switch out.Status {
	case outcome.StatusSuccess, outcome.StatusPartialSuccess:
		s.feedback.RecordSample(ctx, d.Agent, taskType(d), true, out.TokensUsed)
	case outcome.StatusFailed:
		s.feedback.RecordSample(ctx, d.Agent, taskType(d), false, out.TokensUsed)
	}
}

// estimateTokens projects a delegation's token consumption from its cost
// metric: cost 5 maps to the full per-task limit.
func (s *CycleService) estimateTokens(d delegation.Delegation) int {
	if s.perTaskTokens <= 0 {
		return 0
	}
	return d.Metrics.Cost * s.perTaskTokens / 5
}

// taskType buckets delegations for feedback sampling. The agent set is the
// only stable task classification the planner provides.
func taskType(d delegation.Delegation) string {
	return string(d.Agent)
}

// groupByAgent splits delegations into per-agent queues, preserving the
// admission order inside each queue.
func groupByAgent(ds []delegation.Delegation) [][]delegation.Delegation {
	index := map[delegation.Agent]int{}
	var out [][]delegation.Delegation
	for _, d := range ds {
		i, ok := index[d.Agent]
		if !ok {
			i = len(out)
			index[d.Agent] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], d)
	}
	return out
}

func truncateOutput(s string) string {
	if len(s) > maxStoredOutput {
		return s[:maxStoredOutput] + "\n... (truncated)"
	}
	return s
}
