// Package notifier defines the notification port (interface).
// Delivery failures are logged by callers, never retried, and never block
// the pipeline.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`  // "info", "success", "warning", "error"
	Source  string `json:"source"` // e.g. "change.pending_approval"
}

// Notifier is the port interface for sending notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "telegram").
	Name() string

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
