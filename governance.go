package pdp

import (
	"fmt"
	"regexp"
	"sort"
	"time"
)

// Risk signal vocabulary. The vocabulary is fixed in code; the weights live
// in the bundle.
const (
	SignalStaleness          = "staleness"
	SignalMissingOwnership   = "missing_ownership"
	SignalMissingNextStep    = "missing_next_step"
	SignalStalledStage       = "stalled_stage"
	SignalLowEngagementDepth = "low_engagement_depth"
	SignalPendingSecurity    = "pending_security_review"
	SignalThinCommittee      = "thin_buying_committee"
	SignalProcurementMissing = "procurement_not_started"
)

// DiscountTier is one row of the tiered concession table. Ceiling is a
// percentage; Approvers are the roles that must sign off at that tier.
type DiscountTier struct {
	CeilingPct float64  `json:"ceiling_pct" yaml:"ceiling_pct"`
	Approvers  []string `json:"approvers" yaml:"approvers"`
}

// SLABreach records one exceeded threshold.
type SLABreach struct {
	Category  string `json:"category"`
	Days      int    `json:"days"`
	Threshold int    `json:"threshold"`
}

// GovernanceResult merges all sub-checks without masking: every violation
// surfaces simultaneously.
type GovernanceResult struct {
	Violations        []Violation
	Flags             []string
	Risk              Risk
	SLABreaches       []SLABreach
	RequiredApprovers []string
	Trace             []string
}

// Blocking reports whether the governance outcome forces a deny.
func (r *GovernanceResult) Blocking() bool { return len(r.Violations) > 0 }

// EvaluateGovernance runs the business-invariant checks against an entity
// snapshot. All thresholds come from the bundle configuration; a nil entity
// yields an empty, non-blocking result.
func EvaluateGovernance(entity *EntityState, cfg *GovernanceConfig, now time.Time) *GovernanceResult {
	out := &GovernanceResult{}
	if entity == nil {
		return out
	}
	checkStageExit(entity, cfg, out)
	checkNaming(entity, cfg, out)
	checkSLA(entity, cfg, now, out)
	scoreRisk(entity, cfg, now, out)
	resolveApprovals(entity, cfg, out)
	checkPermissionMatrix(entity, cfg, out)
	return out
}

func checkStageExit(e *EntityState, cfg *GovernanceConfig, out *GovernanceResult) {
	// Moving to an earlier stage than previously recorded is blocking,
	// never silently accepted.
	if e.PreviousStage != "" && e.Stage != e.PreviousStage {
		cur := stageIndex(cfg.StageOrder, e.Stage)
		prev := stageIndex(cfg.StageOrder, e.PreviousStage)
		if cur >= 0 && prev >= 0 && cur < prev {
			out.Violations = append(out.Violations, Violation{
				Code:   "stage_regression",
				Detail: fmt.Sprintf("%s precedes %s", e.Stage, e.PreviousStage),
			})
			out.Trace = append(out.Trace, "stage: regression")
		}
	}
	for _, field := range cfg.StageEvidence[e.Stage] {
		if e.Fields[field] == "" {
			out.Violations = append(out.Violations, Violation{
				Code:   "missing_evidence",
				Detail: field,
			})
			out.Trace = append(out.Trace, "stage: missing evidence "+field)
		}
	}
}

func stageIndex(order []string, stage string) int {
	for i, s := range order {
		if s == stage {
			return i
		}
	}
	return -1
}

func checkNaming(e *EntityState, cfg *GovernanceConfig, out *GovernanceResult) {
	required := make(map[string]bool)
	for _, f := range cfg.StageEvidence[e.Stage] {
		required[f] = true
	}
	fields := make([]string, 0, len(cfg.NamingPatterns))
	for f := range cfg.NamingPatterns {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, field := range fields {
		val, ok := e.Fields[field]
		if !ok || val == "" {
			continue // absence is the stage-exit check's concern
		}
		re, err := regexp.Compile(cfg.NamingPatterns[field])
		if err != nil {
			out.Flags = append(out.Flags, "naming_pattern_invalid:"+field)
			continue
		}
		if re.MatchString(val) {
			continue
		}
		// Pattern mismatches are flags unless the field is also required
		// evidence for the current stage.
		if required[field] {
			out.Violations = append(out.Violations, Violation{Code: "naming_violation", Detail: field})
		} else {
			out.Flags = append(out.Flags, "naming:"+field)
		}
		out.Trace = append(out.Trace, "naming: mismatch "+field)
	}
}

// calendarDaysBetween counts whole civil days between two instants in the
// given location. Anchoring the civil dates in UTC keeps the arithmetic
// stable across DST transitions.
func calendarDaysBetween(from, to time.Time, loc *time.Location) int {
	f := from.In(loc)
	t := to.In(loc)
	fd := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	td := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(td.Sub(fd).Hours() / 24)
}

func governanceLocation(cfg *GovernanceConfig) *time.Location {
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

func checkSLA(e *EntityState, cfg *GovernanceConfig, now time.Time, out *GovernanceResult) {
	loc := governanceLocation(cfg)
	refs := map[string]time.Time{
		"activity": e.LastActivityAt,
		"stage":    e.StageEnteredAt,
		"age":      e.CreatedAt,
	}
	cats := make([]string, 0, len(cfg.SLAThresholdDays))
	for c := range cfg.SLAThresholdDays {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		threshold := cfg.SLAThresholdDays[cat]
		ref, ok := refs[cat]
		if !ok || ref.IsZero() || threshold <= 0 {
			continue
		}
		days := calendarDaysBetween(ref, now, loc)
		if days > threshold {
			out.SLABreaches = append(out.SLABreaches, SLABreach{Category: cat, Days: days, Threshold: threshold})
			out.Trace = append(out.Trace, fmt.Sprintf("sla: %s %dd > %dd", cat, days, threshold))
		}
	}
}

func scoreRisk(e *EntityState, cfg *GovernanceConfig, now time.Time, out *GovernanceResult) {
	loc := governanceLocation(cfg)
	active := make([]string, 0, 8)
	if cfg.StaleAfterDays > 0 && !e.LastActivityAt.IsZero() &&
		calendarDaysBetween(e.LastActivityAt, now, loc) >= cfg.StaleAfterDays {
		active = append(active, SignalStaleness)
	}
	if e.OwnerID == "" {
		active = append(active, SignalMissingOwnership)
	}
	if e.NextStep == "" {
		active = append(active, SignalMissingNextStep)
	}
	if cfg.StalledStageAfterDays > 0 && !e.StageEnteredAt.IsZero() &&
		calendarDaysBetween(e.StageEnteredAt, now, loc) >= cfg.StalledStageAfterDays {
		active = append(active, SignalStalledStage)
	}
	if cfg.MinEngagementDepth > 0 && e.EngagementDepth < cfg.MinEngagementDepth {
		active = append(active, SignalLowEngagementDepth)
	}
	if e.SecurityReviewPending {
		active = append(active, SignalPendingSecurity)
	}
	if cfg.MinCommitteeSize > 0 && e.BuyingCommitteeSize < cfg.MinCommitteeSize {
		active = append(active, SignalThinCommittee)
	}
	if !e.ProcurementStarted {
		active = append(active, SignalProcurementMissing)
	}

	score := 0.0
	signals := make([]string, 0, len(active))
	for _, s := range active {
		w, ok := cfg.RiskWeights[s]
		if !ok {
			continue // unweighted signals contribute nothing
		}
		score += w
		signals = append(signals, s)
	}
	out.Risk = Risk{Score: score, Signals: signals}
}

// ResolveApprovalChain picks the tightest tier whose ceiling covers the
// requested value. A request above every ceiling resolves to the
// highest-ceiling tier and reports aboveMax.
func ResolveApprovalChain(requestPct float64, tiers []DiscountTier) (approvers []string, aboveMax bool) {
	if len(tiers) == 0 {
		return nil, false
	}
	sorted := append([]DiscountTier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CeilingPct < sorted[j].CeilingPct })
	for _, t := range sorted {
		if t.CeilingPct >= requestPct {
			return t.Approvers, false
		}
	}
	return sorted[len(sorted)-1].Approvers, true
}

func resolveApprovals(e *EntityState, cfg *GovernanceConfig, out *GovernanceResult) {
	if e.RequestedDiscountPct <= 0 || len(cfg.DiscountTiers) == 0 {
		return
	}
	approvers, aboveMax := ResolveApprovalChain(e.RequestedDiscountPct, cfg.DiscountTiers)
	out.RequiredApprovers = approvers
	if aboveMax {
		out.Flags = append(out.Flags, "above_maximum")
	}
	out.Trace = append(out.Trace, fmt.Sprintf("approval_chain: %.1f%% -> %v", e.RequestedDiscountPct, approvers))
}

func checkPermissionMatrix(e *EntityState, cfg *GovernanceConfig, out *GovernanceResult) {
	if len(e.Edits) == 0 || len(cfg.PermissionMatrix) == 0 {
		return
	}
	for _, edit := range e.Edits {
		editable := cfg.PermissionMatrix[edit.ActorRole]
		allowed := false
		for _, t := range editable {
			if t == edit.TargetType {
				allowed = true
				break
			}
		}
		if !allowed {
			out.Violations = append(out.Violations, Violation{
				Code:   "permission_matrix_violation",
				Detail: fmt.Sprintf("role %s cannot edit %s", edit.ActorRole, edit.TargetType),
			})
			out.Trace = append(out.Trace, "matrix: deny "+edit.ActorRole+" -> "+edit.TargetType)
		}
	}
}
