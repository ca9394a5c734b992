package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/forgeline/forgeline/internal/domain/delegation"
	"github.com/forgeline/forgeline/internal/domain/feedback"
	"github.com/forgeline/forgeline/internal/port/database"
)

// FeedbackService biases admission metrics using recent execution history.
type FeedbackService struct {
	store             database.Store
	perTaskTokenLimit int
	now               func() time.Time
}

// NewFeedbackService creates a FeedbackService.
func NewFeedbackService(store database.Store, perTaskTokenLimit int) *FeedbackService {
	return &FeedbackService{store: store, perTaskTokenLimit: perTaskTokenLimit, now: time.Now}
}

// Adjustment computes the metric deltas for an (agent, task type) pair from
// the trailing sample window. Lookup failures degrade to the neutral
// adjustment so a broken history never stalls a cycle.
func (s *FeedbackService) Adjustment(ctx context.Context, agent delegation.Agent, taskType string) delegation.Adjustment {
	now := s.now()
	samples, err := s.store.ListSamples(ctx, string(agent), taskType, now.Add(-feedback.Window))
	if err != nil {
		slog.Warn("feedback sample lookup failed, using neutral adjustment",
			"agent", agent, "task_type", taskType, "error", err)
		return delegation.Adjustment{}
	}
	return feedback.Adjust(samples, now, s.perTaskTokenLimit)
}

// RecordSample persists one outcome for future adjustment windows.
func (s *FeedbackService) RecordSample(ctx context.Context, agent delegation.Agent, taskType string, success bool, tokens int) {
	sample := &feedback.Sample{
		Agent:      string(agent),
		TaskType:   taskType,
		Success:    success,
		TokensUsed: tokens,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateSample(ctx, sample); err != nil {
		slog.Warn("feedback sample write failed", "agent", agent, "error", err)
	}
}
