package service

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/forgeline/forgeline/internal/config"
	"github.com/forgeline/forgeline/internal/domain"
	"github.com/forgeline/forgeline/internal/domain/budget"
	"github.com/forgeline/forgeline/internal/domain/change"
	"github.com/forgeline/forgeline/internal/domain/feedback"
	"github.com/forgeline/forgeline/internal/domain/outcome"
	"github.com/forgeline/forgeline/internal/port/llm"
	"github.com/forgeline/forgeline/internal/port/notifier"
	"github.com/forgeline/forgeline/internal/workspace"
)

// memStore is an in-memory database.Store for service tests.
type memStore struct {
	mu sync.Mutex

	changes map[string]*change.CodeChange
	results []outcome.ExecutionResult
	events  []outcome.ExecutionEvent
	audits  []outcome.Audit
	samples []feedback.Sample
	usage   map[string]int

	sampleErr error
	listErr   error
}

func newMemStore() *memStore {
	return &memStore{
		changes: map[string]*change.CodeChange{},
		usage:   map[string]int{},
	}
}

func (m *memStore) CreateChange(_ context.Context, c *change.CodeChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.changes[c.ID] = &cp
	return nil
}

func (m *memStore) GetChange(_ context.Context, id string) (*change.CodeChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.changes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListChanges(_ context.Context, status change.Status, limit int) ([]change.CodeChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []change.CodeChange
	for _, c := range m.changes {
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

func (m *memStore) UpdateChangeStatus(_ context.Context, id string, status change.Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.changes[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = status
	c.Error = errMsg
	return nil
}

func (m *memStore) SetChangeArtifacts(_ context.Context, id, diff, branch string, files []string, risk int, testOutput string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.changes[id]
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

func (m *memStore) MarkChangeApplied(_ context.Context, id, diff, branch string, files []string, risk int, testOutput string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.changes[id]
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

func (m *memStore) SetChangeApproval(_ context.Context, id string, status change.Status, approvedBy string, approvedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.changes[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = status
	c.ApprovedBy = approvedBy
	c.ApprovedAt = &approvedAt
	return nil
}

func (m *memStore) CreateResult(_ context.Context, r *outcome.ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, *r)
	return nil
}

func (m *memStore) CreateSample(_ context.Context, s *feedback.Sample) error {
	if m.sampleErr != nil {
		return m.sampleErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, *s)
	return nil
}

func (m *memStore) ListSamples(_ context.Context, agent, taskType string, since time.Time) ([]feedback.Sample, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []feedback.Sample
	for _, s := range m.samples {
		if s.Agent == agent && s.TaskType == taskType && !s.CreatedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) AppendEvent(_ context.Context, ev *outcome.ExecutionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *memStore) ListEvents(_ context.Context, traceID string) ([]outcome.ExecutionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []outcome.ExecutionEvent
	for _, ev := range m.events {
		if ev.TraceID == traceID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memStore) CreateAudit(_ context.Context, a *outcome.Audit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, *a)
	return nil
}

func (m *memStore) GetBudget(_ context.Context, period, agent string) (*budget.Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &budget.Budget{
		Period:     period,
		Agent:      agent,
		UsedTokens: m.usage[period+"/"+agent],
		HardLimit:  true,
	}, nil
}

func (m *memStore) AddUsage(_ context.Context, period, agent string, tokens int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[period+"/"+agent] += tokens
	return nil
}

func (m *memStore) resultCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

// scriptedLLM replays canned completions in order.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []scriptedResponse
	requests  []llm.Request
}

type scriptedResponse struct {
	text   string
	tokens int
	err    error
}

func (s *scriptedLLM) respond(text string, tokens int) {
	s.responses = append(s.responses, scriptedResponse{text: text, tokens: tokens})
}

func (s *scriptedLLM) fail(err error) {
	s.responses = append(s.responses, scriptedResponse{err: err})
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return nil, errors.New("scripted llm: no responses left")
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &llm.Response{Text: next.text, Usage: llm.Usage{TotalTokens: next.tokens}}, nil
}

// capturingNotifier records sent notifications.
type capturingNotifier struct {
	mu   sync.Mutex
	sent []notifier.Notification
}

func (n *capturingNotifier) Name() string { return "capture" }

func (n *capturingNotifier) Send(_ context.Context, notification notifier.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

// initGitRepo builds a minimal committed repository for workspace tests.
func initGitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "forgeline@test.local")
	run("config", "user.name", "forgeline")

	writeRepoFile(t, dir, "package.json", `{"name": "demo", "private": true}`)
	writeRepoFile(t, dir, "src/index.ts", "export function greet(name: string) {\n  return `hello ${name}`;\n}\n")

	run("add", "-A")
	run("commit", "-q", "-m", "initial")
	return dir
}

func writeRepoFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newTestWorkspace(t *testing.T, root string) *workspace.Manager {
	t.Helper()
	return workspace.NewManager(config.Workspace{
		Root:        root,
		BaseBranch:  "main",
		AllowedDirs: []string{"src/", "lib/", "tests/"},
	}, nil)
}
