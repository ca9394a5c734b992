// Package telegram implements a notifier.Notifier for the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/forgeline/forgeline/internal/config"
	"github.com/forgeline/forgeline/internal/port/notifier"
)

const providerName = "telegram"

// Notifier sends notifications through a Telegram bot.
type Notifier struct {
	apiBase    string
	botToken   string
	chatID     string
	httpClient *http.Client
}

// NewNotifier creates a Telegram notifier from config.
func NewNotifier(cfg config.Telegram) *Notifier {
	return &Notifier{
		apiBase:    "https://api.telegram.org",
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		httpClient: http.DefaultClient,
	}
}

func (n *Notifier) Name() string { return providerName }

// sendMessageRequest is the Telegram sendMessage payload.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.botToken == "" || n.chatID == "" {
		return notifier.ErrNotConfigured
	}

	text := fmt.Sprintf("%s %s\n\n%s", levelTag(notification.Level), notification.Title, notification.Message)
	if notification.Source != "" {
		text += fmt.Sprintf("\n\nSource: %s", notification.Source)
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID: n.chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // bot token from trusted config
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func levelTag(level string) string {
	switch level {
	case "success":
		return "[OK]"
	case "error":
		return "[ERROR]"
	case "warning":
		return "[WARN]"
	default:
		return "[INFO]"
	}
}
