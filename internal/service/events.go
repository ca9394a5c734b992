package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/forgeline/forgeline/internal/domain/outcome"
	"github.com/forgeline/forgeline/internal/port/database"
	"github.com/forgeline/forgeline/internal/port/messagequeue"
)

// EventRecorder appends execution events to the store and mirrors them onto
// the queue for the external dashboard. Recording is best effort: a broken
// event sink must never fail a delegation.
type EventRecorder struct {
	store database.Store
	queue messagequeue.Queue
}

// NewEventRecorder creates an EventRecorder. queue may be nil.
func NewEventRecorder(store database.Store, queue messagequeue.Queue) *EventRecorder {
	return &EventRecorder{store: store, queue: queue}
}

// Emit records one execution event.
func (r *EventRecorder) Emit(ctx context.Context, traceID, agent, eventType, phase, message string, level outcome.Level) {
	ev := &outcome.ExecutionEvent{
		TraceID:   traceID,
		Agent:     agent,
		EventType: eventType,
		Phase:     phase,
		Message:   message,
		Level:     level,
		CreatedAt: time.Now().UTC(),
	}

	if err := r.store.AppendEvent(ctx, ev); err != nil {
		slog.Warn("event append failed", "trace_id", traceID, "event_type", eventType, "error", err)
	}

	if r.queue == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := r.queue.Publish(ctx, messagequeue.SubjectExecutionEvents, payload); err != nil {
		slog.Debug("event publish failed", "trace_id", traceID, "error", err)
	}
}
