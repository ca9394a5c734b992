package decision

import (
	"testing"

	"github.com/forgeline/forgeline/internal/domain/delegation"
)

func mk(task string, impact, cost, risk int) delegation.Delegation {
	return delegation.Delegation{
		Agent: delegation.AgentForge,
		Task:  task,
		Metrics: delegation.Metrics{
			Impact: impact, Cost: cost, Risk: risk, Confidence: 3,
		},
	}
}

func TestFilter_Partitions(t *testing.T) {
	input := []delegation.Delegation{
		mk("low impact", 2, 3, 1),  // rejected: impact<=2, cost>=impact
		mk("risky", 5, 2, 4),       // needs approval: risk>=4
		mk("expensive", 5, 4, 1),   // needs approval: cost>=4
		mk("good-a", 5, 1, 1),      // approved
		mk("good-b", 4, 2, 2),      // approved
		mk("good-c", 3, 1, 1),      // approved
		mk("overflow", 3, 2, 1),    // rejected: quota
	}

	res := Filter(input, 3)

	if got := len(res.Approved) + len(res.NeedsApproval) + len(res.Rejected); got != len(input) {
		t.Fatalf("partition size = %d, want %d", got, len(input))
	}
	if len(res.Approved) != 3 {
		t.Errorf("approved = %d, want 3", len(res.Approved))
	}
	if len(res.NeedsApproval) != 2 {
		t.Errorf("needsApproval = %d, want 2", len(res.NeedsApproval))
	}
	if res.Rejected[0].Reason != ReasonLowImpact {
		t.Errorf("reason = %q, want %q", res.Rejected[0].Reason, ReasonLowImpact)
	}
	if res.Rejected[1].Reason != ReasonCycleQuota {
		t.Errorf("reason = %q, want %q", res.Rejected[1].Reason, ReasonCycleQuota)
	}
}

func TestFilter_OrdersByImpactThenCost(t *testing.T) {
	input := []delegation.Delegation{
		mk("b", 3, 3, 1),
		mk("a", 5, 2, 1),
		mk("c", 3, 1, 1),
	}

	res := Filter(input, 2)
	if len(res.Approved) != 2 {
		t.Fatalf("approved = %d, want 2", len(res.Approved))
	}
	if res.Approved[0].Task != "a" {
		t.Errorf("first approved = %q, want highest impact", res.Approved[0].Task)
	}
	// Impact tie between b and c: lower cost wins the remaining slot.
	if res.Approved[1].Task != "c" {
		t.Errorf("second approved = %q, want cheaper tie-break", res.Approved[1].Task)
	}
}

func TestFilter_NeverApprovesHighRiskOrCost(t *testing.T) {
	input := []delegation.Delegation{
		mk("r4", 5, 1, 4),
		mk("r5", 5, 1, 5),
		mk("c4", 5, 4, 1),
		mk("c5", 5, 5, 1),
	}
	res := Filter(input, 10)
	if len(res.Approved) != 0 {
		t.Errorf("approved = %d, want 0", len(res.Approved))
	}
	if len(res.NeedsApproval) != 4 {
		t.Errorf("needsApproval = %d, want 4", len(res.NeedsApproval))
	}
}

func TestFilter_QuotaNeverExceeded(t *testing.T) {
	var input []delegation.Delegation
	for range 20 {
		input = append(input, mk("t", 3, 1, 1))
	}
	res := Filter(input, 3)
	if len(res.Approved) > 3 {
		t.Errorf("approved = %d, want <= 3", len(res.Approved))
	}
	if len(res.Rejected) != 17 {
		t.Errorf("rejected = %d, want 17", len(res.Rejected))
	}
}

func TestFilter_Empty(t *testing.T) {
	res := Filter(nil, 3)
	if len(res.Approved)+len(res.NeedsApproval)+len(res.Rejected) != 0 {
		t.Error("expected empty result for empty input")
	}
}

func TestFilter_LowImpactCheaperThanImpactIsCandidate(t *testing.T) {
	// impact=2, cost=1: cost < impact, so the low-impact rule does not fire.
	res := Filter([]delegation.Delegation{mk("cheap", 2, 1, 1)}, 3)
	if len(res.Approved) != 1 {
		t.Errorf("approved = %d, want 1", len(res.Approved))
	}
}
