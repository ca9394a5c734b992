package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/forgeline/forgeline/internal/domain/change"
	"github.com/forgeline/forgeline/internal/domain/risk"
	"github.com/forgeline/forgeline/internal/port/database"
	"github.com/forgeline/forgeline/internal/port/messagequeue"
	"github.com/forgeline/forgeline/internal/port/notifier"
)

// ErrNotAwaitingApproval is returned when an approval decision targets a
// change that is not pending approval.
var ErrNotAwaitingApproval = errors.New("change is not awaiting approval")

// ApprovalService routes risky changes to a human and records the decision.
type ApprovalService struct {
	store  database.Store
	notify *NotificationService
	queue  messagequeue.Queue
}

// NewApprovalService creates an ApprovalService. queue may be nil.
func NewApprovalService(store database.Store, notify *NotificationService, queue messagequeue.Queue) *ApprovalService {
	return &ApprovalService{store: store, notify: notify, queue: queue}
}

// RequestApproval parks a change in pending_approval and notifies a human
// with enough context to decide. Notification failure is logged, never fatal:
// the change stays reviewable through the API.
func (s *ApprovalService) RequestApproval(ctx context.Context, c *change.CodeChange, score risk.Score) error {
	if err := s.store.UpdateChangeStatus(ctx, c.ID, change.StatusPendingApproval, ""); err != nil {
		return fmt.Errorf("park change for approval: %w", err)
	}
	c.Status = change.StatusPendingApproval

	s.notify.Notify(ctx, notifier.Notification{
		Title:   fmt.Sprintf("Approval required: change %s", c.ShortID()),
		Message: approvalMessage(c, score),
		Level:   "warning",
		Source:  "change.pending_approval",
	})
	s.publishStatus(ctx, c)
	return nil
}

// Approve records a human approval on a pending change.
func (s *ApprovalService) Approve(ctx context.Context, id, approvedBy string) (*change.CodeChange, error) {
	return s.decide(ctx, id, approvedBy, change.StatusApproved)
}

// Reject records a human rejection on a pending change.
func (s *ApprovalService) Reject(ctx context.Context, id, rejectedBy string) (*change.CodeChange, error) {
	return s.decide(ctx, id, rejectedBy, change.StatusRejected)
}

func (s *ApprovalService) decide(ctx context.Context, id, who string, next change.Status) (*change.CodeChange, error) {
	c, err := s.store.GetChange(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: change %s is %s", ErrNotAwaitingApproval, c.ShortID(), c.Status)
	}

	now := time.Now().UTC()
	if err := s.store.SetChangeApproval(ctx, id, next, who, now); err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}
	c.Status = next
	c.ApprovedBy = who
	c.ApprovedAt = &now

	s.publishStatus(ctx, c)
	return c, nil
}

// publishStatus emits a change status event on the queue. Best effort.
func (s *ApprovalService) publishStatus(ctx context.Context, c *change.CodeChange) {
	if s.queue == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"change_id": c.ID,
		"task_id":   c.TaskID,
		"status":    c.Status,
		"branch":    c.Branch,
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectChangeStatus, payload); err != nil {
		slog.Warn("change status publish failed", "change_id", c.ID, "error", err)
	}
}

// approvalMessage formats the notification body: what the change does, which
// files it touches, why it was flagged, and how to roll it back.
func approvalMessage(c *change.CodeChange, score risk.Score) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", c.Description)
	fmt.Fprintf(&b, "Risk %d (path %d, agent estimate %d)\n", score.Effective, score.PathRisk, score.AgentRisk)

	var reasons []string
	if score.ManyFiles {
		reasons = append(reasons, "touches more than 2 files")
	}
	if score.Modifies {
		reasons = append(reasons, "modifies existing files")
	}
	if score.OffPolicy {
		reasons = append(reasons, "writes outside the allowed directories")
	}
	if len(reasons) > 0 {
		fmt.Fprintf(&b, "Flagged: %s\n", strings.Join(reasons, "; "))
	}

	b.WriteString("\nFiles:\n")
	for _, f := range c.FilesChanged {
		fmt.Fprintf(&b, "  %s\n", f)
	}

	if c.Branch != "" {
		fmt.Fprintf(&b, "\nBranch: %s\nRollback: git branch -D %s\n", c.Branch, c.Branch)
	}
	return b.String()
}
