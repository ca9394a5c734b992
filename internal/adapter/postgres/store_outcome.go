package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/forgeline/forgeline/internal/domain/feedback"
	"github.com/forgeline/forgeline/internal/domain/outcome"
)

// CreateResult inserts a finished execution result.
func (s *Store) CreateResult(ctx context.Context, r *outcome.ExecutionResult) error {
	const q = `
		INSERT INTO outcomes (id, trace_id, agent, task, goal_id, status, output, error,
			tokens_used, execution_time_ms, artifact_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, q,
		r.ID, r.TraceID, r.Agent, r.Task, nullIfEmpty(r.GoalID),
		string(r.Status), r.Output, r.Error,
		r.TokensUsed, r.ExecutionTimeMs, r.ArtifactBytes, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create result: %w", err)
	}
	return nil
}

// CreateSample records a feedback sample for future metric adjustment.
func (s *Store) CreateSample(ctx context.Context, sample *feedback.Sample) error {
	const q = `
		INSERT INTO agent_feedback (agent, task_type, success, tokens_used, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q,
		sample.Agent, sample.TaskType, sample.Success, sample.TokensUsed, sample.CreatedAt)
	if err != nil {
		return fmt.Errorf("create sample: %w", err)
	}
	return nil
}

// ListSamples returns feedback samples for an agent and task type since the
// given time, oldest first.
func (s *Store) ListSamples(ctx context.Context, agent, taskType string, since time.Time) ([]feedback.Sample, error) {
	const q = `
		SELECT agent, task_type, success, tokens_used, created_at
		FROM agent_feedback
		WHERE agent = $1 AND task_type = $2 AND created_at >= $3
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, q, agent, taskType, since)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var samples []feedback.Sample
	for rows.Next() {
		var sm feedback.Sample
		if err := rows.Scan(&sm.Agent, &sm.TaskType, &sm.Success, &sm.TokensUsed, &sm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}
