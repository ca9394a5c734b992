// Package change defines the persisted CodeChange entity, its status state
// machine, and the transient FileChange/FileEdit schema produced by the
// implementation phase.
package change

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a CodeChange. Changes are never deleted,
// only moved to a terminal status.
type Status string

const (
	StatusPending         Status = "pending"
	StatusApplying        Status = "applying"
	StatusApplied         Status = "applied"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusFailed          Status = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApplied, StatusApproved, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// transitions enumerates the allowed status moves. Applied is terminal for
// auto-committed changes; pending_approval waits on a human decision.
var transitions = map[Status][]Status{
	StatusPending:         {StatusApplying},
	StatusApplying:        {StatusApplied, StatusPendingApproval, StatusFailed},
	StatusPendingApproval: {StatusApproved, StatusRejected},
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Action is the kind of file mutation requested by a FileChange.
type Action string

const (
	ActionCreate Action = "create"
	ActionModify Action = "modify"
)

// FileEdit is one search/replace operation. Line and EndLine are hints
// carried for diagnostics; matching is content-based.
type FileEdit struct {
	Search  string `json:"search"`
	Replace string `json:"replace"`
	Line    int    `json:"line,omitempty"`
	EndLine int    `json:"endLine,omitempty"`
}

// FileChange is one file's worth of edits, scoped to a single execution
// attempt. Create actions carry full content; modify actions carry edits.
type FileChange struct {
	Path    string     `json:"path"`
	Action  Action     `json:"action"`
	Content string     `json:"content,omitempty"`
	Edits   []FileEdit `json:"edits,omitempty"`
}

// CodeChange is the persisted record of one attempted set of file edits.
type CodeChange struct {
	ID           string     `json:"id"`
	TaskID       string     `json:"task_id"`
	Description  string     `json:"description"`
	FilesChanged []string   `json:"files_changed"`
	Diff         string     `json:"diff"`
	Branch       string     `json:"branch"`
	Risk         int        `json:"risk"`
	Status       Status     `json:"status"`
	TestOutput   string     `json:"test_output,omitempty"`
	Error        string     `json:"error,omitempty"`
	ApprovedBy   string     `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	AppliedAt    *time.Time `json:"applied_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// New creates a pending CodeChange for a task. The id seeds the feature
// branch name, so uniqueness here is what prevents branch collisions.
func New(taskID, description string) *CodeChange {
	return &CodeChange{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// ShortID returns the first 8 characters of the id, used in branch names
// and notification text.
func (c *CodeChange) ShortID() string {
	if len(c.ID) > 8 {
		return c.ID[:8]
	}
	return c.ID
}
