// Package outcome defines the immutable records persisted for every
// delegation attempt: the execution result, the append-only event stream,
// and the unconditional audit digest.
package outcome

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Status classifies how a delegation attempt ended. Blocked and
// infra_unavailable are deliberately distinct from failed: neither counts
// against the agent in feedback sampling.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusPartialSuccess   Status = "partial_success"
	StatusFailed           Status = "failed"
	StatusBlocked          Status = "blocked"
	StatusInfraUnavailable Status = "infra_unavailable"
)

// ExecutionResult is the one-per-attempt record of a delegation's outcome.
// Immutable once recorded.
type ExecutionResult struct {
	ID              string    `json:"id"`
	TraceID         string    `json:"trace_id"`
	Agent           string    `json:"agent"`
	Task            string    `json:"task"`
	GoalID          string    `json:"goal_id"`
	Status          Status    `json:"status"`
	Output          string    `json:"output"`
	Error           string    `json:"error,omitempty"`
	TokensUsed      int       `json:"tokens_used,omitempty"`
	ExecutionTimeMs int64     `json:"execution_time_ms,omitempty"`
	ArtifactBytes   int64     `json:"artifact_size_bytes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Level is the severity of an execution event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// ExecutionEvent is one append-only observability record, ordered by a
// monotonically increasing id assigned by the store.
type ExecutionEvent struct {
	ID        int64           `json:"id"`
	TraceID   string          `json:"trace_id"`
	Agent     string          `json:"agent"`
	EventType string          `json:"event_type"`
	Phase     string          `json:"phase,omitempty"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Level     Level           `json:"level"`
	CreatedAt time.Time       `json:"created_at"`
}

// Audit is the unconditional record of one attempt's input and output,
// stored as digests so prompts never land in the database verbatim.
type Audit struct {
	TraceID    string    `json:"trace_id"`
	Agent      string    `json:"agent"`
	InputHash  string    `json:"input_hash"`
	OutputHash string    `json:"output_hash"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Digest returns the hex sha256 of s, the hash used in audit records.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
