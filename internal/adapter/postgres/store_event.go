package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forgeline/forgeline/internal/domain/outcome"
)

// AppendEvent inserts an execution event, assigning its id and timestamp.
func (s *Store) AppendEvent(ctx context.Context, ev *outcome.ExecutionEvent) error {
	const q = `
		INSERT INTO execution_events (trace_id, agent, event_type, phase, message, metadata, level)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	meta := ev.Metadata
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}

	err := s.pool.QueryRow(ctx, q,
		ev.TraceID, ev.Agent, ev.EventType, ev.Phase, ev.Message, meta, string(ev.Level),
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns all events for a trace in insertion order.
func (s *Store) ListEvents(ctx context.Context, traceID string) ([]outcome.ExecutionEvent, error) {
	const q = `
		SELECT id, trace_id, agent, event_type, phase, message, metadata, level, created_at
		FROM execution_events
		WHERE trace_id = $1
		ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, q, traceID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []outcome.ExecutionEvent
	for rows.Next() {
		var (
			ev    outcome.ExecutionEvent
			level string
		)
		if err := rows.Scan(
			&ev.ID, &ev.TraceID, &ev.Agent, &ev.EventType, &ev.Phase,
			&ev.Message, &ev.Metadata, &level, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Level = outcome.Level(level)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CreateAudit inserts an audit digest record.
func (s *Store) CreateAudit(ctx context.Context, a *outcome.Audit) error {
	const q = `
		INSERT INTO audit_log (trace_id, agent, input_hash, output_hash, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		a.TraceID, a.Agent, a.InputHash, a.OutputHash, string(a.Status), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create audit: %w", err)
	}
	return nil
}
