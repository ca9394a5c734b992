// Package feedback turns historical execution outcomes into metric
// adjustments that bias the next cycle's admission scoring.
package feedback

import (
	"time"

	"github.com/forgeline/forgeline/internal/domain/delegation"
)

// Window is the trailing period considered when adjusting metrics.
const Window = 7 * 24 * time.Hour

// Sample is one historical outcome for an (agent, task type) pair.
// Infrastructure failures are excluded before sampling; they say nothing
// about the agent.
type Sample struct {
	Agent      string    `json:"agent"`
	TaskType   string    `json:"task_type"`
	Success    bool      `json:"success"`
	TokensUsed int       `json:"tokens_used"`
	CreatedAt  time.Time `json:"created_at"`
}

// Thresholds for the adjustment rules.
const (
	failureTrigger   = 2
	successTrigger   = 3
	costUsageWarning = 0.7
)

// Adjust computes the metric deltas for one (agent, task type) pair from
// samples inside the trailing window. Fewer than one sample yields the
// neutral adjustment.
func Adjust(samples []Sample, now time.Time, perTaskTokenLimit int) delegation.Adjustment {
	cutoff := now.Add(-Window)

	var failures, successes, tokenSum, counted int
	for _, s := range samples {
		if s.CreatedAt.Before(cutoff) {
			continue
		}
		counted++
		tokenSum += s.TokensUsed
		if s.Success {
			successes++
		} else {
			failures++
		}
	}

	if counted == 0 {
		return delegation.Adjustment{}
	}

	var adj delegation.Adjustment
	switch {
	case failures >= failureTrigger:
		adj.ImpactDelta = -1
		adj.RiskDelta = +1
	case failures == 0 && successes >= successTrigger:
		adj.RiskDelta = -1
	}

	if perTaskTokenLimit > 0 {
		avg := float64(tokenSum) / float64(counted)
		if avg > costUsageWarning*float64(perTaskTokenLimit) {
			adj.CostDelta = +1
		}
	}

	return adj
}
