// Package decision implements admission control over planner delegations.
// Filter is a pure function: deterministic for identical input ordering
// and metrics, no side effects.
package decision

import (
	"sort"

	"github.com/forgeline/forgeline/internal/domain/delegation"
)

// Rejection pairs a delegation with the reason it was not admitted.
type Rejection struct {
	Delegation delegation.Delegation `json:"delegation"`
	Reason     string                `json:"reason"`
}

// Result partitions a cycle's delegations exactly: every input delegation
// appears in exactly one of the three sets.
type Result struct {
	Approved      []delegation.Delegation `json:"approved"`
	NeedsApproval []delegation.Delegation `json:"needs_approval"`
	Rejected      []Rejection             `json:"rejected"`
}

const (
	ReasonLowImpact   = "low impact, high relative cost"
	ReasonCycleQuota  = "exceeded max delegations per cycle"
	lowImpactCeiling  = 2
	approvalThreshold = 4
)

// Filter ranks and partitions delegations under the per-cycle quota.
// Low-impact work whose cost is not below its impact is rejected outright;
// high-risk or high-cost work routes to human approval; the remaining
// candidates are ranked by impact (descending, cost ascending on ties) and
// the top maxApproved admitted.
func Filter(delegations []delegation.Delegation, maxApproved int) Result {
	var res Result
	var candidates []delegation.Delegation

	for _, d := range delegations {
		m := d.Metrics
		switch {
		case m.Impact <= lowImpactCeiling && m.Cost >= m.Impact:
			res.Rejected = append(res.Rejected, Rejection{Delegation: d, Reason: ReasonLowImpact})
		case m.Risk >= approvalThreshold || m.Cost >= approvalThreshold:
			res.NeedsApproval = append(res.NeedsApproval, d)
		default:
			candidates = append(candidates, d)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Metrics.Impact != candidates[j].Metrics.Impact {
			return candidates[i].Metrics.Impact > candidates[j].Metrics.Impact
		}
		return candidates[i].Metrics.Cost < candidates[j].Metrics.Cost
	})

	for i, d := range candidates {
		if i < maxApproved {
			res.Approved = append(res.Approved, d)
			continue
		}
		res.Rejected = append(res.Rejected, Rejection{Delegation: d, Reason: ReasonCycleQuota})
	}

	return res
}
