package change

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotJSON       = errors.New("implementation output is not valid JSON")
	ErrMissingPath   = errors.New("file change path is required")
	ErrInvalidAction = errors.New("file change action must be create or modify")
	ErrCreateNoBody  = errors.New("create action requires content")
	ErrModifyNoEdits = errors.New("modify action requires at least one edit")
	ErrEmptySearch   = errors.New("edit search must not be empty")
)

// implementationOutput is the wire schema the implementation phase must emit.
type implementationOutput struct {
	Files []FileChange `json:"files"`
}

// ParseFileChanges validates LLM implementation output against the FileChange
// schema. The model may wrap JSON in a markdown fence; that is stripped first.
// An empty file list is valid and means "no changes needed".
func ParseFileChanges(raw string) ([]FileChange, error) {
	cleaned := StripFence(raw)

	var out implementationOutput
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		// Tolerate a bare array of file changes.
		var files []FileChange
		if arrErr := json.Unmarshal([]byte(cleaned), &files); arrErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
		}
		out.Files = files
	}

	for i := range out.Files {
		if err := validateFileChange(&out.Files[i]); err != nil {
			return nil, fmt.Errorf("file %d (%s): %w", i, out.Files[i].Path, err)
		}
	}
	return out.Files, nil
}

func validateFileChange(fc *FileChange) error {
	if fc.Path == "" {
		return ErrMissingPath
	}
	switch fc.Action {
	case ActionCreate:
		if fc.Content == "" {
			return ErrCreateNoBody
		}
	case ActionModify:
		if len(fc.Edits) == 0 {
			return ErrModifyNoEdits
		}
		for i, e := range fc.Edits {
			if e.Search == "" {
				return fmt.Errorf("edit %d: %w", i, ErrEmptySearch)
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, fc.Action)
	}
	return nil
}

// StripFence removes a surrounding markdown code fence, if present.
func StripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
