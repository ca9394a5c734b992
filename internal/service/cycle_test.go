package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/forgeline/forgeline/internal/domain/budget"
	"github.com/forgeline/forgeline/internal/domain/delegation"
	"github.com/forgeline/forgeline/internal/domain/outcome"
)

// stubExecutor runs delegations with scripted outcomes, recording order.
type stubExecutor struct {
	mu       sync.Mutex
	agent    delegation.Agent
	executed []string
	fail     map[string]error
	tokens   int
}

func newStubExecutor(agent delegation.Agent) *stubExecutor {
	return &stubExecutor{agent: agent, fail: map[string]error{}, tokens: 100}
}

func (e *stubExecutor) Agent() delegation.Agent { return e.agent }

func (e *stubExecutor) Execute(_ context.Context, d delegation.Delegation, _ string) (*ExecutionOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, d.Task)
	if err := e.fail[d.Task]; err != nil {
		return nil, err
	}
	return &ExecutionOutput{Status: outcome.StatusSuccess, Output: "done", TokensUsed: e.tokens}, nil
}

func newCycleFixture(store *memStore, limits budget.Limits, executors ...AgentExecutor) *CycleService {
	return NewCycleService(
		NewRegistry(executors...),
		NewBudgetService(store, limits),
		NewFeedbackService(store, limits.PerTask),
		store,
		NewEventRecorder(store, nil),
		nil,
		3,
		limits.PerTask,
	)
}

func good(agent delegation.Agent, task string) delegation.Delegation {
	return delegation.Delegation{
		Agent:   agent,
		Task:    task,
		GoalID:  "goal-1",
		Metrics: delegation.Metrics{Impact: 5, Cost: 2, Risk: 1, Confidence: 4},
	}
}

func TestCycle_PartitionsAndExecutes(t *testing.T) {
	store := newMemStore()
	research := newStubExecutor(delegation.AgentResearch)
	svc := newCycleFixture(store, budget.Limits{}, research)

	lowImpact := good(delegation.AgentResearch, "trivial cleanup")
	lowImpact.Metrics = delegation.Metrics{Impact: 1, Cost: 3, Risk: 1, Confidence: 3}
	highRisk := good(delegation.AgentResearch, "delete production data")
	highRisk.Metrics = delegation.Metrics{Impact: 5, Cost: 2, Risk: 5, Confidence: 3}

	svc.RunCycle(context.Background(), &delegation.Batch{Delegations: []delegation.Delegation{
		good(delegation.AgentResearch, "summarize rfc"),
		lowImpact,
		highRisk,
	}})

	if len(research.executed) != 1 || research.executed[0] != "summarize rfc" {
		t.Fatalf("executed = %v, want only the admitted task", research.executed)
	}
	if n := store.resultCount(); n != 1 {
		t.Fatalf("results = %d, want 1", n)
	}
	if store.results[0].Status != outcome.StatusSuccess {
		t.Errorf("status = %s, want success", store.results[0].Status)
	}
	if len(store.audits) != 1 {
		t.Errorf("audits = %d, want 1", len(store.audits))
	}
	if len(store.samples) != 1 || !store.samples[0].Success {
		t.Errorf("samples = %+v, want one success", store.samples)
	}
}

func TestCycle_BudgetBlocks(t *testing.T) {
	store := newMemStore()
	limits := budget.Limits{PerTask: 1000, PerAgentMonth: 1000}
	period := budget.PeriodFor(time.Now())
	store.usage[period+"/research"] = 900

	research := newStubExecutor(delegation.AgentResearch)
	svc := newCycleFixture(store, limits, research)

	d := good(delegation.AgentResearch, "expensive analysis")
	d.Metrics.Cost = 2 // estimate 400 tokens; 900+400 exceeds the agent month
	svc.RunCycle(context.Background(), &delegation.Batch{Delegations: []delegation.Delegation{d}})

	if len(research.executed) != 0 {
		t.Fatal("blocked delegation must not execute")
	}
	if n := store.resultCount(); n != 1 {
		t.Fatalf("results = %d, want 1", n)
	}
	if store.results[0].Status != outcome.StatusBlocked {
		t.Errorf("status = %s, want blocked", store.results[0].Status)
	}
	if !strings.Contains(store.results[0].Error, "budget exceeded") {
		t.Errorf("error = %q, want budget exceeded reason", store.results[0].Error)
	}
	if len(store.samples) != 0 {
		t.Error("blocked outcomes must not produce feedback samples")
	}
	if len(store.audits) != 1 {
		t.Errorf("audits = %d, want 1; audit is unconditional", len(store.audits))
	}
}

func TestCycle_FirstFailureAbortsAgentQueue(t *testing.T) {
	store := newMemStore()
	research := newStubExecutor(delegation.AgentResearch)
	research.fail["first task"] = errors.New("boom")
	content := newStubExecutor(delegation.AgentContent)

	svc := newCycleFixture(store, budget.Limits{}, research, content)

	svc.RunCycle(context.Background(), &delegation.Batch{Delegations: []delegation.Delegation{
		good(delegation.AgentResearch, "first task"),
		good(delegation.AgentResearch, "second task"),
		good(delegation.AgentContent, "unrelated content"),
	}})

	if len(research.executed) != 1 {
		t.Errorf("research executed = %v, want only the failing task", research.executed)
	}
	if len(content.executed) != 1 {
		t.Errorf("content executed = %v, want one task; other agents are unaffected", content.executed)
	}
	if store.results[0].Status != outcome.StatusFailed {
		t.Errorf("status = %s, want failed", store.results[0].Status)
	}
	if len(store.samples) != 2 {
		t.Errorf("samples = %d, want 2 (one failure, one success)", len(store.samples))
	}
}

func TestCycle_QuotaCapsApprovals(t *testing.T) {
	store := newMemStore()
	research := newStubExecutor(delegation.AgentResearch)
	svc := newCycleFixture(store, budget.Limits{}, research)

	var ds []delegation.Delegation
	for _, task := range []string{"a", "b", "c", "d", "e"} {
		ds = append(ds, good(delegation.AgentResearch, task))
	}
	svc.RunCycle(context.Background(), &delegation.Batch{Delegations: ds})

	if len(research.executed) != 3 {
		t.Fatalf("executed = %d, want the per-cycle quota of 3", len(research.executed))
	}
}

func TestCycle_RecordsUsage(t *testing.T) {
	store := newMemStore()
	research := newStubExecutor(delegation.AgentResearch)
	research.tokens = 500
	svc := newCycleFixture(store, budget.Limits{PerTask: 10000}, research)

	svc.RunCycle(context.Background(), &delegation.Batch{Delegations: []delegation.Delegation{
		good(delegation.AgentResearch, "summarize"),
	}})

	period := budget.PeriodFor(time.Now())
	if got := store.usage[period+"/research"]; got != 500 {
		t.Errorf("agent usage = %d, want 500", got)
	}
	if got := store.usage[period+"/"]; got != 500 {
		t.Errorf("global usage = %d, want 500", got)
	}
}

func TestHandleBatch_MalformedPayloadIsDropped(t *testing.T) {
	store := newMemStore()
	svc := newCycleFixture(store, budget.Limits{}, newStubExecutor(delegation.AgentResearch))

	if err := svc.HandleBatch(context.Background(), "planner.cycle", []byte("{nope")); err != nil {
		t.Fatalf("handler should ack malformed payloads, got %v", err)
	}
	if store.resultCount() != 0 {
		t.Error("nothing should execute for a malformed batch")
	}
}

func TestHandleBatch_ValidPayload(t *testing.T) {
	store := newMemStore()
	research := newStubExecutor(delegation.AgentResearch)
	svc := newCycleFixture(store, budget.Limits{}, research)

	payload := []byte(`{
		"delegations": [
			{"agent": "research", "task": "summarize rfc", "goal_id": "g1",
			 "decision_metrics": {"impact": 5, "cost": 2, "risk": 1, "confidence": 4}}
		]
	}`)
	if err := svc.HandleBatch(context.Background(), "planner.cycle", payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(research.executed) != 1 {
		t.Fatalf("executed = %v, want one task", research.executed)
	}
}
