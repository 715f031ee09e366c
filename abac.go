package pdp

import (
	"fmt"

	"github.com/oarkflow/pdp/utils"
)

// ABACResult is the attribute-check slice of a decision. Deny short-circuits
// further allow consideration, but obligation computation always completes
// so remediation can be reported alongside a denial.
type ABACResult struct {
	Deny        bool
	Reason      string
	Violations  []Violation
	Obligations []Obligation
	Trace       []string
}

func (r *ABACResult) deny(reason, detail string) {
	if !r.Deny {
		r.Deny = true
		r.Reason = reason
	}
	r.Violations = append(r.Violations, Violation{Code: reason, Detail: detail})
}

// EvaluateABAC runs the ordered attribute checks: tenant isolation,
// residency, clearance, least privilege, step-up obligation, dual control.
// Tenant isolation and the dual-control minimum are code-level constants
// checked regardless of bundle content.
func EvaluateABAC(sub *Subject, res *Resource, action Action, rc *RequestContext, bundle *Bundle) *ABACResult {
	out := &ABACResult{}
	rules := &bundle.Rules

	// 1. Tenant isolation. Non-overridable: no configuration is consulted.
	if sub.TenantID != res.TenantID && !sub.IsPlatform() {
		out.deny(ReasonTenantMismatch, fmt.Sprintf("subject tenant %s, resource tenant %s", sub.TenantID, res.TenantID))
		out.Trace = append(out.Trace, "tenant: DENY")
	} else {
		out.Trace = append(out.Trace, "tenant: ok")
	}

	// 2. Residency. Never satisfiable by role elevation or platform scope.
	if sub.Residency != res.Residency {
		out.deny(ReasonResidencyMismatch, fmt.Sprintf("subject residency %s, resource residency %s", sub.Residency, res.Residency))
		out.Trace = append(out.Trace, "residency: DENY")
	} else {
		out.Trace = append(out.Trace, "residency: ok")
	}

	// 3. Clearance hierarchy.
	if sub.Clearance < res.Classification {
		out.deny(ReasonClearance, fmt.Sprintf("subject %s, resource %s", sub.Clearance, res.Classification))
		out.Trace = append(out.Trace, "clearance: DENY")
	} else {
		out.Trace = append(out.Trace, "clearance: ok")
	}

	// 4. Least privilege: the action must be explicitly entitled for this
	// resource. Exact "resourceID:action" entries only, no wildcards.
	if !hasEntitlement(sub, res.ID, action) {
		out.deny(ReasonLeastPrivilege, fmt.Sprintf("action %s not entitled for resource %s", action, res.ID))
		out.Trace = append(out.Trace, "least_privilege: DENY")
	} else {
		out.Trace = append(out.Trace, "least_privilege: ok")
	}

	// 5. Step-up obligation. A precondition reported alongside the outcome,
	// never a denial by itself.
	catalog := rc.ProtectedActions
	if len(catalog) == 0 {
		catalog = rules.ProtectedActions
	}
	protected := utils.MatchAny(catalog, string(action))
	required := 0
	if res.Classification >= ClearanceConfidential {
		required = rules.RequiredAssurance(res.Classification)
	}
	if protected && required < 2 {
		required = 2
	}
	if required > 0 && rc.LevelOfAssurance < required {
		out.Obligations = append(out.Obligations, Obligation{
			Type:   ObligationStepUp,
			Detail: fmt.Sprintf("assurance level %d required, current %d", required, rc.LevelOfAssurance),
		})
		out.Trace = append(out.Trace, fmt.Sprintf("step_up: required loa=%d", required))
	} else {
		out.Trace = append(out.Trace, "step_up: not required")
	}

	// 6. Dual control for privileged actions. Self-approvals and duplicate
	// actors are discarded by the shared helper before the cardinality
	// check; insufficiency reports the deny and the obligation together so
	// one round trip can resolve it.
	if utils.MatchAny(rules.PrivilegedActions, string(action)) {
		allowedRoles := rules.ApproverRoles[string(action)]
		eligible := EligibleApprovers(sub.ID, rc.Approvals, allowedRoles)
		if len(eligible) < DualControlMinApprovers {
			out.deny(ReasonDualControl, fmt.Sprintf("%d of %d required approvals", len(eligible), DualControlMinApprovers))
			out.Obligations = append(out.Obligations, Obligation{
				Type:   ObligationDualControl,
				Detail: fmt.Sprintf("need %d distinct non-self approvals from roles %v", DualControlMinApprovers, allowedRoles),
			})
			out.Trace = append(out.Trace, fmt.Sprintf("dual_control: DENY eligible=%d", len(eligible)))
		} else {
			out.Trace = append(out.Trace, fmt.Sprintf("dual_control: satisfied eligible=%d", len(eligible)))
		}
	} else {
		out.Trace = append(out.Trace, "dual_control: not privileged")
	}

	return out
}

func hasEntitlement(sub *Subject, resourceID string, action Action) bool {
	want := resourceID + ":" + string(action)
	for _, e := range sub.Entitlements {
		if e == want {
			return true
		}
	}
	return false
}
