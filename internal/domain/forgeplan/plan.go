// Package forgeplan defines the planning phase's output schema and its
// defensive parsing. Plans are advisory: a delegation proceeds without one
// when planning fails.
package forgeplan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotJSON marks planning output that could not be decoded. Callers treat
// this as a soft failure and continue planless.
var ErrNotJSON = errors.New("plan output is not valid JSON")

// Plan is the planning phase's view of the work ahead. Discarded and
// regenerated wholesale on replan.
type Plan struct {
	Plan          string   `json:"plan"`
	FilesToRead   []string `json:"filesToRead"`
	FilesToModify []string `json:"filesToModify"`
	FilesToCreate []string `json:"filesToCreate"`
	Approach      string   `json:"approach"`
	EstimatedRisk int      `json:"estimatedRisk"`
	Dependencies  []string `json:"dependencies"`
}

// Parse decodes planning output, tolerating a markdown fence and clamping
// the risk estimate into the 1-5 range.
func Parse(raw string) (*Plan, error) {
	cleaned := stripFence(raw)

	var p Plan
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}

	if p.EstimatedRisk < 1 {
		p.EstimatedRisk = 1
	}
	if p.EstimatedRisk > 5 {
		p.EstimatedRisk = 5
	}
	return &p, nil
}

// Files returns every path the plan mentions, reads first.
func (p *Plan) Files() []string {
	out := make([]string, 0, len(p.FilesToRead)+len(p.FilesToModify)+len(p.FilesToCreate))
	out = append(out, p.FilesToRead...)
	out = append(out, p.FilesToModify...)
	out = append(out, p.FilesToCreate...)
	return out
}

func stripFence(s string) string {
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
