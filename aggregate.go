package pdp

import "time"

// reasonPrecedence fixes the order in which simultaneous violations select
// the reported reason, most specific first. Repeated evaluation of the same
// inputs therefore always reports the same reason.
var reasonPrecedence = []string{
	ReasonTenantMismatch,
	ReasonResidencyMismatch,
	ReasonClearance,
	ReasonLeastPrivilege,
	ReasonDualControl,
	ReasonGovernance,
	ReasonFreezeWindow,
}

// Aggregate merges the sub-evaluator results into one Decision under
// deny-overrides-allow semantics. Obligations are the union of all
// sub-results even on allow; the reason is the single most specific
// violation under the fixed precedence.
func Aggregate(abac *ABACResult, freeze *FreezeResult, gov *GovernanceResult, at time.Time) *Decision {
	d := &Decision{Timestamp: at, Reason: ReasonAllow}

	present := make(map[string]bool)
	if abac != nil {
		for _, v := range abac.Violations {
			present[v.Code] = true
			d.Violations = append(d.Violations, v)
		}
		d.Obligations = append(d.Obligations, abac.Obligations...)
		d.Trace = append(d.Trace, abac.Trace...)
	}
	if gov != nil {
		if gov.Blocking() {
			present[ReasonGovernance] = true
		}
		d.Violations = append(d.Violations, gov.Violations...)
		d.Flags = append(d.Flags, gov.Flags...)
		d.Risk = gov.Risk
		d.Trace = append(d.Trace, gov.Trace...)
	}
	if freeze != nil {
		if freeze.Blocked {
			present[ReasonFreezeWindow] = true
			d.Violations = append(d.Violations, Violation{Code: ReasonFreezeWindow, Detail: freeze.Window})
		}
		d.Trace = append(d.Trace, freeze.Trace...)
	}

	for _, r := range reasonPrecedence {
		if present[r] {
			d.Reason = r
			break
		}
	}
	d.Allow = d.Reason == ReasonAllow
	return d
}
