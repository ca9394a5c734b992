// Package service contains application services.
package service

import (
	"context"
	"log/slog"

	"github.com/forgeline/forgeline/internal/port/notifier"
)

// NotificationService dispatches notifications to all registered notifiers.
type NotificationService struct {
	notifiers []notifier.Notifier
}

// NewNotificationService creates a NotificationService with the given notifiers.
func NewNotificationService(notifiers []notifier.Notifier) *NotificationService {
	return &NotificationService{notifiers: notifiers}
}

// Notify sends a notification to all registered notifiers.
// Errors are logged but do not interrupt delivery to other notifiers.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	for _, provider := range s.notifiers {
		if err := provider.Send(ctx, n); err != nil {
			slog.Warn("notification send failed",
				"provider", provider.Name(),
				"title", n.Title,
				"error", err,
			)
			continue
		}
		slog.Debug("notification sent", "provider", provider.Name(), "title", n.Title)
	}
}
