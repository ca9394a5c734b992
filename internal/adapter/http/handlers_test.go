package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/forgeline/forgeline/internal/domain"
	"github.com/forgeline/forgeline/internal/domain/budget"
	"github.com/forgeline/forgeline/internal/domain/change"
	"github.com/forgeline/forgeline/internal/domain/feedback"
	"github.com/forgeline/forgeline/internal/domain/outcome"
	"github.com/forgeline/forgeline/internal/service"
)

type fakeStore struct {
	changes map[string]*change.CodeChange
	events  map[string][]outcome.ExecutionEvent
	budgets map[string]*budget.Budget
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		changes: map[string]*change.CodeChange{},
		events:  map[string][]outcome.ExecutionEvent{},
		budgets: map[string]*budget.Budget{},
	}
}

func (f *fakeStore) CreateChange(_ context.Context, c *change.CodeChange) error {
	cp := *c
	f.changes[c.ID] = &cp
	return nil
}

func (f *fakeStore) GetChange(_ context.Context, id string) (*change.CodeChange, error) {
	c, ok := f.changes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) ListChanges(_ context.Context, status change.Status, limit int) ([]change.CodeChange, error) {
	var out []change.CodeChange
	for _, c := range f.changes {
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, *c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateChangeStatus(_ context.Context, id string, status change.Status, errMsg string) error {
	c, ok := f.changes[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = status
	c.Error = errMsg
	return nil
}

func (f *fakeStore) SetChangeArtifacts(_ context.Context, id, diff, branch string, files []string, risk int, testOutput string) error {
	c, ok := f.changes[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Diff = diff
	c.Branch = branch
	c.FilesChanged = files
	c.Risk = risk
	c.TestOutput = testOutput
	return nil
}

func (f *fakeStore) MarkChangeApplied(_ context.Context, id, diff, branch string, files []string, risk int, testOutput string) error {
	c, ok := f.changes[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = change.StatusApplied
	c.Diff = diff
	c.Branch = branch
	c.FilesChanged = files
	c.Risk = risk
	c.TestOutput = testOutput
	return nil
}

func (f *fakeStore) SetChangeApproval(_ context.Context, id string, status change.Status, approvedBy string, approvedAt time.Time) error {
	c, ok := f.changes[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = status
	c.ApprovedBy = approvedBy
	c.ApprovedAt = &approvedAt
	return nil
}

func (f *fakeStore) CreateResult(context.Context, *outcome.ExecutionResult) error { return nil }
func (f *fakeStore) CreateSample(context.Context, *feedback.Sample) error         { return nil }

func (f *fakeStore) ListSamples(context.Context, string, string, time.Time) ([]feedback.Sample, error) {
	return nil, nil
}

func (f *fakeStore) AppendEvent(_ context.Context, ev *outcome.ExecutionEvent) error {
	f.events[ev.TraceID] = append(f.events[ev.TraceID], *ev)
	return nil
}

func (f *fakeStore) ListEvents(_ context.Context, traceID string) ([]outcome.ExecutionEvent, error) {
	return f.events[traceID], nil
}

func (f *fakeStore) CreateAudit(context.Context, *outcome.Audit) error { return nil }

func (f *fakeStore) GetBudget(_ context.Context, period, agent string) (*budget.Budget, error) {
	if b, ok := f.budgets[period+"/"+agent]; ok {
		return b, nil
	}
	return &budget.Budget{Period: period, Agent: agent, HardLimit: true}, nil
}

func (f *fakeStore) AddUsage(_ context.Context, period, agent string, tokens int) error {
	key := period + "/" + agent
	b, ok := f.budgets[key]
	if !ok {
		b = &budget.Budget{Period: period, Agent: agent, HardLimit: true}
		f.budgets[key] = b
	}
	b.UsedTokens += tokens
	b.TotalTokens += tokens
	return nil
}

func newTestServer(store *fakeStore) *httptest.Server {
	approvals := service.NewApprovalService(store, service.NewNotificationService(nil), nil)
	budgets := service.NewBudgetService(store, budget.Limits{PerTask: 1000, PerAgentMonth: 5000, GlobalMonth: 10000})
	h := NewHandlers(store, approvals, budgets, []string{"forge", "research"})
	return httptest.NewServer(NewRouter(h))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(newFakeStore())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestGetChange_NotFound(t *testing.T) {
	srv := newTestServer(newFakeStore())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/changes/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListChanges_FiltersByStatus(t *testing.T) {
	store := newFakeStore()
	pending := change.New("t1", "pending change")
	pending.Status = change.StatusPendingApproval
	applied := change.New("t2", "applied change")
	applied.Status = change.StatusApplied
	store.changes[pending.ID] = pending
	store.changes[applied.ID] = applied

	srv := newTestServer(store)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/changes?status=pending_approval")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var got []change.CodeChange
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].ID != pending.ID {
		t.Errorf("id = %s, want %s", got[0].ID, pending.ID)
	}
}

func TestListChanges_BadLimit(t *testing.T) {
	srv := newTestServer(newFakeStore())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/changes?limit=zero")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestApproveChange(t *testing.T) {
	store := newFakeStore()
	c := change.New("t1", "risky change")
	c.Status = change.StatusPendingApproval
	store.changes[c.ID] = c

	srv := newTestServer(store)
	defer srv.Close()

	body := strings.NewReader(`{"decided_by": "alice"}`)
	resp, err := http.Post(srv.URL+"/api/v1/changes/"+c.ID+"/approve", "application/json", body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got change.CodeChange
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != change.StatusApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	if got.ApprovedBy != "alice" {
		t.Errorf("approved_by = %s, want alice", got.ApprovedBy)
	}
}

func TestApproveChange_MissingApprover(t *testing.T) {
	store := newFakeStore()
	c := change.New("t1", "risky change")
	c.Status = change.StatusPendingApproval
	store.changes[c.ID] = c

	srv := newTestServer(store)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/changes/"+c.ID+"/approve", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRejectChange_NotPending(t *testing.T) {
	store := newFakeStore()
	c := change.New("t1", "already applied")
	c.Status = change.StatusApplied
	store.changes[c.ID] = c

	srv := newTestServer(store)
	defer srv.Close()

	body := strings.NewReader(`{"decided_by": "bob"}`)
	resp, err := http.Post(srv.URL+"/api/v1/changes/"+c.ID+"/reject", "application/json", body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestTraceEvents(t *testing.T) {
	store := newFakeStore()
	store.events["trace-1"] = []outcome.ExecutionEvent{
		{TraceID: "trace-1", EventType: "delegation.started", Level: outcome.LevelInfo},
		{TraceID: "trace-1", EventType: "delegation.finished", Level: outcome.LevelInfo},
	}

	srv := newTestServer(store)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/traces/trace-1/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var got []outcome.ExecutionEvent
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestBudgetOverview(t *testing.T) {
	store := newFakeStore()
	period := budget.PeriodFor(time.Now())
	store.budgets[period+"/"] = &budget.Budget{Period: period, UsedTokens: 4200}
	store.budgets[period+"/forge"] = &budget.Budget{Period: period, Agent: "forge", UsedTokens: 3000}

	srv := newTestServer(store)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/budget")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var got service.Overview
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.GlobalUsed != 4200 {
		t.Errorf("global_used = %d, want 4200", got.GlobalUsed)
	}
	if len(got.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(got.Agents))
	}
	if got.Agents[0].Agent != "forge" || got.Agents[0].UsedTokens != 3000 {
		t.Errorf("forge usage = %+v", got.Agents[0])
	}
}
