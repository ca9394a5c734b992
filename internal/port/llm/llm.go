// Package llm defines the LLM collaborator port (interface).
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the LLM proxy cannot be reached after the
// bounded retries. It maps to the infra_unavailable outcome status.
var ErrUnavailable = errors.New("llm: service unavailable")

// Request is one completion call.
type Request struct {
	System          string `json:"system"`
	UserMessage     string `json:"user_message"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
}

// Usage reports token consumption for budget accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the completion result.
type Response struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Client is the port interface for LLM completions.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
