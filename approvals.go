package pdp

// DualControlMinApprovers is the code-level minimum of distinct, non-self,
// role-qualified approvers for a privileged action. Bundles cannot lower it.
const DualControlMinApprovers = 2

// EligibleApprovers filters an approval list down to the approvals that
// count toward dual control: duplicate actor IDs are collapsed to the first
// occurrence, the subject's own approvals are discarded, and only approvals
// whose role appears in the action's approver allow-list survive. Every
// dual-control call site must go through this helper.
func EligibleApprovers(subjectID string, approvals []Approval, allowedRoles []string) []Approval {
	allowed := make(map[string]bool, len(allowedRoles))
	for _, r := range allowedRoles {
		allowed[r] = true
	}
	seen := make(map[string]bool, len(approvals))
	out := make([]Approval, 0, len(approvals))
	for _, a := range approvals {
		if a.ActorID == "" || a.ActorID == subjectID {
			continue
		}
		if seen[a.ActorID] {
			continue
		}
		if !allowed[a.Role] {
			continue
		}
		seen[a.ActorID] = true
		out = append(out, a)
	}
	return out
}

// DualControlSatisfied reports whether the eligible approvals meet the
// code-level minimum.
func DualControlSatisfied(subjectID string, approvals []Approval, allowedRoles []string) bool {
	return len(EligibleApprovers(subjectID, approvals, allowedRoles)) >= DualControlMinApprovers
}
