// Package litellm implements the LLM port against a LiteLLM proxy's
// OpenAI-compatible chat completions API.
package litellm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/forgeline/forgeline/internal/config"
	"github.com/forgeline/forgeline/internal/port/llm"
	"github.com/forgeline/forgeline/internal/resilience"
)

// Client talks to the LiteLLM proxy. Implements llm.Client.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries uint64
	retryBase  time.Duration
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new LiteLLM completion client.
func NewClient(cfg config.LLM) *Client {
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	return &Client{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxRetries: uint64(cfg.MaxRetries),
		retryBase:  cfg.RetryBase,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// statusError carries an HTTP status for retry classification.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("litellm API error %d: %s", e.code, e.body)
}

// retryable reports whether a call is worth repeating. Client errors other
// than rate limiting are not.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	// Network-level failures.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Complete sends one chat completion request, retrying transient failures
// with exponential backoff.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserMessage})

	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: req.MaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	var out *llm.Response
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.retryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, callErr := c.doRequest(ctx, body)
		if callErr != nil {
			if retryable(callErr) {
				return retry.RetryableError(callErr)
			}
			return callErr
		}
		out = resp
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || retryable(err) {
			return nil, fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte) (*llm.Response, error) {
	var out *llm.Response
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return &statusError{code: resp.StatusCode, body: string(data)}
		}

		var parsed chatResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("unmarshal completion: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return errors.New("completion returned no choices")
		}

		out = &llm.Response{
			Text: parsed.Choices[0].Message.Content,
			Usage: llm.Usage{
				InputTokens:  parsed.Usage.PromptTokens,
				OutputTokens: parsed.Usage.CompletionTokens,
				TotalTokens:  parsed.Usage.TotalTokens,
			},
		}
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Do(call); err != nil {
			return nil, err
		}
		return out, nil
	}
	if err := call(); err != nil {
		return nil, err
	}
	return out, nil
}
