// Package budget enforces token quotas before a delegation executes.
package budget

import (
	"fmt"
	"time"
)

// Budget tracks token usage for one calendar month. UsedTokens grows
// additively with every LLM call; the row is read before each execution
// attempt.
type Budget struct {
	Period      string    `json:"period"` // "2026-08"
	Agent       string    `json:"agent"`  // empty for the global row
	UsedTokens  int       `json:"used_tokens"`
	TotalTokens int       `json:"total_tokens"`
	HardLimit   bool      `json:"hard_limit"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PeriodFor formats t's calendar month as a budget period key.
func PeriodFor(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Limits holds the configured quota ceilings.
type Limits struct {
	PerTask       int
	PerAgentMonth int
	GlobalMonth   int
}

// Decision is the budget gate's verdict. A denial blocks execution
// entirely; the task is recorded as blocked, not failed.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Check vets one delegation against the per-task estimate and the monthly
// agent/global usage. Zero limits disable the corresponding check.
func Check(estimate int, agentUsed, globalUsed int, limits Limits) Decision {
	if limits.PerTask > 0 && estimate > limits.PerTask {
		return Decision{Reason: fmt.Sprintf(
			"estimated %d tokens exceeds per-task limit %d", estimate, limits.PerTask)}
	}
	if limits.PerAgentMonth > 0 && agentUsed+estimate > limits.PerAgentMonth {
		return Decision{Reason: fmt.Sprintf(
			"agent monthly usage %d+%d exceeds limit %d", agentUsed, estimate, limits.PerAgentMonth)}
	}
	if limits.GlobalMonth > 0 && globalUsed+estimate > limits.GlobalMonth {
		return Decision{Reason: fmt.Sprintf(
			"global monthly usage %d+%d exceeds limit %d", globalUsed, estimate, limits.GlobalMonth)}
	}
	return Decision{Allowed: true}
}
