package pdp

import (
	"testing"
	"time"
)

func TestAggregateAllowWhenClean(t *testing.T) {
	at := time.Now()
	d := Aggregate(&ABACResult{}, &FreezeResult{}, &GovernanceResult{}, at)
	if !d.Allow || d.Reason != ReasonAllow {
		t.Fatalf("expected allow, got allow=%v reason=%s", d.Allow, d.Reason)
	}
}

func TestAggregateReasonPrecedence(t *testing.T) {
	at := time.Now()
	abac := &ABACResult{
		Deny: true,
		Violations: []Violation{
			{Code: ReasonDualControl},
			{Code: ReasonTenantMismatch},
		},
	}
	freeze := &FreezeResult{Blocked: true, Reason: ReasonFreezeWindow, Window: "weekend"}
	gov := &GovernanceResult{Violations: []Violation{{Code: "stage_regression"}}}

	d := Aggregate(abac, freeze, gov, at)
	if d.Allow {
		t.Fatalf("expected deny")
	}
	if d.Reason != ReasonTenantMismatch {
		t.Fatalf("tenant mismatch outranks everything, got %s", d.Reason)
	}
}

func TestAggregateGovernanceOutranksFreeze(t *testing.T) {
	at := time.Now()
	freeze := &FreezeResult{Blocked: true, Reason: ReasonFreezeWindow, Window: "weekend"}
	gov := &GovernanceResult{Violations: []Violation{{Code: "missing_evidence"}}}
	d := Aggregate(&ABACResult{}, freeze, gov, at)
	if d.Reason != ReasonGovernance {
		t.Fatalf("expected governance reason, got %s", d.Reason)
	}
	// The freeze violation still surfaces in the violation list.
	found := false
	for _, v := range d.Violations {
		if v.Code == ReasonFreezeWindow {
			found = true
		}
	}
	if !found {
		t.Fatalf("freeze violation must still be reported, got %v", d.Violations)
	}
}

func TestAggregateObligationsUnionOnAllow(t *testing.T) {
	at := time.Now()
	abac := &ABACResult{
		Obligations: []Obligation{{Type: ObligationStepUp, Detail: "loa 2 required"}},
	}
	d := Aggregate(abac, &FreezeResult{}, &GovernanceResult{}, at)
	if !d.Allow {
		t.Fatalf("expected allow, got reason %s", d.Reason)
	}
	if !d.HasObligation(ObligationStepUp) {
		t.Fatalf("obligations must survive on allow, got %v", d.Obligations)
	}
}

func TestAggregateCarriesRiskAndFlags(t *testing.T) {
	at := time.Now()
	gov := &GovernanceResult{
		Flags: []string{"above_maximum"},
		Risk:  Risk{Score: 45, Signals: []string{SignalMissingOwnership}},
	}
	d := Aggregate(&ABACResult{}, &FreezeResult{}, gov, at)
	if !d.Allow {
		t.Fatalf("flags and risk alone must not deny, got %s", d.Reason)
	}
	if d.Risk.Score != 45 || len(d.Flags) != 1 {
		t.Fatalf("risk/flags not carried: %+v", d)
	}
}
