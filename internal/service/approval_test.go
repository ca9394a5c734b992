package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/forgeline/forgeline/internal/domain/change"
	"github.com/forgeline/forgeline/internal/domain/risk"
	"github.com/forgeline/forgeline/internal/port/notifier"
)

func newApprovalFixture() (*memStore, *capturingNotifier, *ApprovalService) {
	store := newMemStore()
	capture := &capturingNotifier{}
	svc := NewApprovalService(store, NewNotificationService([]notifier.Notifier{capture}), nil)
	return store, capture, svc
}

func TestRequestApproval(t *testing.T) {
	store, capture, svc := newApprovalFixture()

	c := change.New("task-1", "add retry to uploader")
	c.Status = change.StatusApplying
	c.Branch = "forge/ab12cd34"
	c.FilesChanged = []string{"src/upload.ts"}
	if err := store.CreateChange(context.Background(), c); err != nil {
		t.Fatalf("seed: %v", err)
	}

	score := risk.Score{PathRisk: 2, AgentRisk: 4, Effective: 4, Modifies: true}
	if err := svc.RequestApproval(context.Background(), c, score); err != nil {
		t.Fatalf("request approval: %v", err)
	}

	stored, err := store.GetChange(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != change.StatusPendingApproval {
		t.Errorf("status = %s, want pending_approval", stored.Status)
	}

	if len(capture.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(capture.sent))
	}
	msg := capture.sent[0].Message
	if !strings.Contains(msg, "Risk 4 (path 2, agent estimate 4)") {
		t.Errorf("message missing risk line:\n%s", msg)
	}
	if !strings.Contains(msg, "git branch -D forge/ab12cd34") {
		t.Errorf("message missing rollback hint:\n%s", msg)
	}
}

func TestApprove(t *testing.T) {
	store, _, svc := newApprovalFixture()

	c := change.New("task-1", "risky change")
	c.Status = change.StatusPendingApproval
	if err := store.CreateChange(context.Background(), c); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := svc.Approve(context.Background(), c.ID, "alice")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != change.StatusApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	if got.ApprovedBy != "alice" || got.ApprovedAt == nil {
		t.Errorf("decision metadata not set: %+v", got)
	}
}

func TestReject(t *testing.T) {
	store, _, svc := newApprovalFixture()

	c := change.New("task-1", "risky change")
	c.Status = change.StatusPendingApproval
	if err := store.CreateChange(context.Background(), c); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := svc.Reject(context.Background(), c.ID, "bob")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != change.StatusRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}
}

func TestApprove_NotPending(t *testing.T) {
	store, _, svc := newApprovalFixture()

	c := change.New("task-1", "already applied")
	c.Status = change.StatusApplied
	if err := store.CreateChange(context.Background(), c); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := svc.Approve(context.Background(), c.ID, "alice")
	if !errors.Is(err, ErrNotAwaitingApproval) {
		t.Fatalf("err = %v, want ErrNotAwaitingApproval", err)
	}
}
