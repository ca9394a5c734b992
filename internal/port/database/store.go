// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/forgeline/forgeline/internal/domain/budget"
	"github.com/forgeline/forgeline/internal/domain/change"
	"github.com/forgeline/forgeline/internal/domain/feedback"
	"github.com/forgeline/forgeline/internal/domain/outcome"
)

// Store is the port interface for database operations.
type Store interface {
	// Code changes
	CreateChange(ctx context.Context, c *change.CodeChange) error
	GetChange(ctx context.Context, id string) (*change.CodeChange, error)
	ListChanges(ctx context.Context, status change.Status, limit int) ([]change.CodeChange, error)
	UpdateChangeStatus(ctx context.Context, id string, status change.Status, errMsg string) error
	SetChangeArtifacts(ctx context.Context, id, diff, branch string, files []string, risk int, testOutput string) error
	MarkChangeApplied(ctx context.Context, id, diff, branch string, files []string, risk int, testOutput string) error
	SetChangeApproval(ctx context.Context, id string, status change.Status, approvedBy string, approvedAt time.Time) error

	// Outcomes
	CreateResult(ctx context.Context, r *outcome.ExecutionResult) error

	// Feedback samples
	CreateSample(ctx context.Context, s *feedback.Sample) error
	ListSamples(ctx context.Context, agent, taskType string, since time.Time) ([]feedback.Sample, error)

	// Events and audit
	AppendEvent(ctx context.Context, ev *outcome.ExecutionEvent) error
	ListEvents(ctx context.Context, traceID string) ([]outcome.ExecutionEvent, error)
	CreateAudit(ctx context.Context, a *outcome.Audit) error

	// Budgets
	GetBudget(ctx context.Context, period, agent string) (*budget.Budget, error)
	AddUsage(ctx context.Context, period, agent string, tokens int) error
}
