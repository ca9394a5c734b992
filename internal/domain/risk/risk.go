// Package risk scores a produced change set to decide between auto-apply
// and human approval.
package risk

import "github.com/forgeline/forgeline/internal/domain/change"

// ApprovalThreshold is the effective risk at or above which a change is
// held as pending_approval instead of applying automatically.
const ApprovalThreshold = 3

// Score holds the computed risk and the inputs that produced it, kept for
// notification text and audit records.
type Score struct {
	PathRisk  int  `json:"path_risk"`
	AgentRisk int  `json:"agent_risk"`
	Effective int  `json:"effective"`
	ManyFiles bool `json:"many_files"`
	Modifies  bool `json:"modifies"`
	OffPolicy bool `json:"off_policy"`
}

// NeedsApproval reports whether the change must wait for human sign-off.
func (s Score) NeedsApproval() bool {
	return s.Effective >= ApprovalThreshold
}

// Compute derives the effective risk for a change set.
// Path risk starts at 1, +1 for more than two files, +1 if any file is
// modified (rather than created), and is floored at the approval threshold
// when any touched path sits outside the stack whitelist. The effective
// risk is the maximum of path risk and the agent's own estimate.
func Compute(files []change.FileChange, agentEstimate int, offPolicy bool) Score {
	s := Score{PathRisk: 1, AgentRisk: agentEstimate, OffPolicy: offPolicy}

	if len(files) > 2 {
		s.PathRisk++
		s.ManyFiles = true
	}
	for _, f := range files {
		if f.Action == change.ActionModify {
			s.PathRisk++
			s.Modifies = true
			break
		}
	}
	if offPolicy && s.PathRisk < ApprovalThreshold {
		s.PathRisk = ApprovalThreshold
	}

	s.Effective = s.PathRisk
	if agentEstimate > s.Effective {
		s.Effective = agentEstimate
	}
	return s
}
