package service

import (
	"context"
	"fmt"
	"time"

	"github.com/forgeline/forgeline/internal/domain/budget"
	"github.com/forgeline/forgeline/internal/port/database"
)

// globalAgent is the agent key for the global usage row.
const globalAgent = ""

// BudgetService gates delegation execution on token quotas and records
// consumption afterwards.
type BudgetService struct {
	store  database.Store
	limits budget.Limits
	now    func() time.Time
}

// NewBudgetService creates a BudgetService with the configured limits.
func NewBudgetService(store database.Store, limits budget.Limits) *BudgetService {
	return &BudgetService{store: store, limits: limits, now: time.Now}
}

// Check vets a delegation's token estimate against the per-task, per-agent
// and global monthly quotas for the current period.
func (s *BudgetService) Check(ctx context.Context, agent string, estimate int) (budget.Decision, error) {
	period := budget.PeriodFor(s.now())

	agentRow, err := s.store.GetBudget(ctx, period, agent)
	if err != nil {
		return budget.Decision{}, fmt.Errorf("agent budget: %w", err)
	}
	globalRow, err := s.store.GetBudget(ctx, period, globalAgent)
	if err != nil {
		return budget.Decision{}, fmt.Errorf("global budget: %w", err)
	}

	return budget.Check(estimate, agentRow.UsedTokens, globalRow.UsedTokens, s.limits), nil
}

// Record accumulates consumed tokens on both the agent row and the global
// row for the current period.
func (s *BudgetService) Record(ctx context.Context, agent string, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	period := budget.PeriodFor(s.now())

	if err := s.store.AddUsage(ctx, period, agent, tokens); err != nil {
		return fmt.Errorf("record agent usage: %w", err)
	}
	if err := s.store.AddUsage(ctx, period, globalAgent, tokens); err != nil {
		return fmt.Errorf("record global usage: %w", err)
	}
	return nil
}

// AgentUsage is one agent's standing in the current period.
type AgentUsage struct {
	Agent      string `json:"agent"`
	UsedTokens int    `json:"used_tokens"`
	Limit      int    `json:"limit,omitempty"`
}

// Overview summarizes current-period usage for the budget API.
type Overview struct {
	Period      string       `json:"period"`
	GlobalUsed  int          `json:"global_used"`
	GlobalLimit int          `json:"global_limit,omitempty"`
	PerTask     int          `json:"per_task_limit,omitempty"`
	Agents      []AgentUsage `json:"agents"`
}

// Overview reports usage for the given agents plus the global row.
func (s *BudgetService) Overview(ctx context.Context, agents []string) (*Overview, error) {
	period := budget.PeriodFor(s.now())

	globalRow, err := s.store.GetBudget(ctx, period, globalAgent)
	if err != nil {
		return nil, fmt.Errorf("global budget: %w", err)
	}

	out := &Overview{
		Period:      period,
		GlobalUsed:  globalRow.UsedTokens,
		GlobalLimit: s.limits.GlobalMonth,
		PerTask:     s.limits.PerTask,
		Agents:      make([]AgentUsage, 0, len(agents)),
	}
	for _, a := range agents {
		row, err := s.store.GetBudget(ctx, period, a)
		if err != nil {
			return nil, fmt.Errorf("agent budget %s: %w", a, err)
		}
		out.Agents = append(out.Agents, AgentUsage{
			Agent:      a,
			UsedTokens: row.UsedTokens,
			Limit:      s.limits.PerAgentMonth,
		})
	}
	return out, nil
}
