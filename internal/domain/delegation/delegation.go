// Package delegation defines the planner-proposed unit of work and the
// validation rules for inbound planner batches.
package delegation

// Agent identifies which executor a delegation is assigned to.
type Agent string

const (
	AgentForge    Agent = "forge"
	AgentResearch Agent = "research"
	AgentContent  Agent = "content"
)

// Known reports whether the agent name maps to a registered executor.
func (a Agent) Known() bool {
	switch a {
	case AgentForge, AgentResearch, AgentContent:
		return true
	}
	return false
}

// Metrics carries the planner's 1-5 scoring for one delegation.
type Metrics struct {
	Impact     int `json:"impact"`
	Cost       int `json:"cost"`
	Risk       int `json:"risk"`
	Confidence int `json:"confidence"`
}

// Delegation is one proposed unit of work. Immutable after creation.
type Delegation struct {
	Agent          Agent   `json:"agent"`
	Task           string  `json:"task"`
	GoalID         string  `json:"goal_id"`
	ExpectedOutput string  `json:"expected_output"`
	Deadline       string  `json:"deadline"`
	Metrics        Metrics `json:"decision_metrics"`
}

// Batch is the planner's per-cycle output.
type Batch struct {
	DecisionsNeeded []string     `json:"decisions_needed"`
	Delegations     []Delegation `json:"delegations"`
	TasksKilled     []string     `json:"tasks_killed"`
}

// Adjustment shifts a delegation's metrics based on historical outcomes.
// Applied by the cycle service before admission filtering.
type Adjustment struct {
	ImpactDelta int `json:"impact_delta"`
	CostDelta   int `json:"cost_delta"`
	RiskDelta   int `json:"risk_delta"`
}

// Adjusted returns a copy of d with the adjustment applied and every
// metric clamped back into the 1-5 range.
func (d Delegation) Adjusted(adj Adjustment) Delegation {
	out := d
	out.Metrics.Impact = clampMetric(d.Metrics.Impact + adj.ImpactDelta)
	out.Metrics.Cost = clampMetric(d.Metrics.Cost + adj.CostDelta)
	out.Metrics.Risk = clampMetric(d.Metrics.Risk + adj.RiskDelta)
	return out
}

func clampMetric(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}
