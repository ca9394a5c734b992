// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Subjects used by the pipeline.
const (
	// SubjectPlannerCycle carries delegation batches from the planner.
	SubjectPlannerCycle = "planner.cycle"

	// SubjectExecutionEvents carries per-phase execution events.
	SubjectExecutionEvents = "events.execution"

	// SubjectChangeStatus carries code change status transitions.
	SubjectChangeStatus = "changes.status"
)

// Handler processes a single message.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for message queue operations.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a durable handler for a subject and returns a stop
	// function. Messages are acknowledged only after the handler returns nil.
	Subscribe(ctx context.Context, subject, durable string, handler Handler) (func(), error)

	// Close shuts down the connection.
	Close() error
}
