package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/forgeline/forgeline/internal/domain/budget"
)

// GetBudget returns the usage row for a (period, agent) pair. A pair with no
// recorded usage yet yields a zero-usage budget, not an error.
func (s *Store) GetBudget(ctx context.Context, period, agent string) (*budget.Budget, error) {
	const q = `
		SELECT period, agent, used_tokens, total_tokens, hard_limit, updated_at
		FROM budgets
		WHERE period = $1 AND agent = $2`

	var b budget.Budget
	err := s.pool.QueryRow(ctx, q, period, agent).Scan(
		&b.Period, &b.Agent, &b.UsedTokens, &b.TotalTokens, &b.HardLimit, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &budget.Budget{Period: period, Agent: agent, HardLimit: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get budget %s/%s: %w", period, agent, err)
	}
	return &b, nil
}

// AddUsage accumulates consumed tokens for a (period, agent) pair.
func (s *Store) AddUsage(ctx context.Context, period, agent string, tokens int) error {
	const q = `
		INSERT INTO budgets (period, agent, used_tokens, total_tokens, updated_at)
		VALUES ($1, $2, $3, $3, now())
		ON CONFLICT (period, agent) DO UPDATE
		SET used_tokens = budgets.used_tokens + EXCLUDED.used_tokens,
			total_tokens = budgets.total_tokens + EXCLUDED.total_tokens,
			updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, period, agent, tokens); err != nil {
		return fmt.Errorf("add usage %s/%s: %w", period, agent, err)
	}
	return nil
}
