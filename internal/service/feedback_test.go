package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgeline/forgeline/internal/domain/delegation"
	"github.com/forgeline/forgeline/internal/domain/feedback"
)

func TestFeedbackAdjustment_RepeatedFailures(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	store.samples = []feedback.Sample{
		{Agent: "forge", TaskType: "forge", Success: false, CreatedAt: now.Add(-time.Hour)},
		{Agent: "forge", TaskType: "forge", Success: false, CreatedAt: now.Add(-2 * time.Hour)},
	}

	svc := NewFeedbackService(store, 10000)
	adj := svc.Adjustment(context.Background(), delegation.AgentForge, "forge")

	if adj.ImpactDelta != -1 || adj.RiskDelta != +1 {
		t.Errorf("adjustment = %+v, want impact -1 risk +1", adj)
	}
}

func TestFeedbackAdjustment_LookupFailureIsNeutral(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("db down")

	svc := NewFeedbackService(store, 10000)
	adj := svc.Adjustment(context.Background(), delegation.AgentForge, "forge")

	if adj != (delegation.Adjustment{}) {
		t.Errorf("adjustment = %+v, want neutral", adj)
	}
}

func TestFeedbackRecordSample(t *testing.T) {
	store := newMemStore()
	svc := NewFeedbackService(store, 10000)

	svc.RecordSample(context.Background(), delegation.AgentResearch, "research", true, 1200)

	if len(store.samples) != 1 {
		t.Fatalf("samples = %d, want 1", len(store.samples))
	}
	s := store.samples[0]
	if s.Agent != "research" || !s.Success || s.TokensUsed != 1200 {
		t.Errorf("sample = %+v", s)
	}
}

func TestFeedbackRecordSample_WriteFailureIsSilent(t *testing.T) {
	store := newMemStore()
	store.sampleErr = errors.New("db down")

	svc := NewFeedbackService(store, 10000)
	svc.RecordSample(context.Background(), delegation.AgentForge, "forge", false, 10)

	if len(store.samples) != 0 {
		t.Fatal("sample should not have been stored")
	}
}
