package pdp

import (
	"fmt"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Clearance is the ordered trust scale matching subject level against
// resource classification. The order is total: Public < Internal <
// Confidential < Secret < TopSecret.
type Clearance int

const (
	ClearancePublic Clearance = iota
	ClearanceInternal
	ClearanceConfidential
	ClearanceSecret
	ClearanceTopSecret
)

var clearanceNames = map[Clearance]string{
	ClearancePublic:       "public",
	ClearanceInternal:     "internal",
	ClearanceConfidential: "confidential",
	ClearanceSecret:       "secret",
	ClearanceTopSecret:    "top-secret",
}

func (c Clearance) String() string {
	if n, ok := clearanceNames[c]; ok {
		return n
	}
	return fmt.Sprintf("clearance(%d)", int(c))
}

// ParseClearance maps a level name to its Clearance. Unknown names are an
// error so malformed input can be rejected before evaluation.
func ParseClearance(s string) (Clearance, error) {
	for c, n := range clearanceNames {
		if n == s {
			return c, nil
		}
	}
	return ClearancePublic, fmt.Errorf("unknown clearance level %q", s)
}

func (c Clearance) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clearance) UnmarshalText(b []byte) error {
	v, err := ParseClearance(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ScopePlatform marks a subject operating at platform scope. Only platform
// subjects may cross tenant boundaries; residency and clearance checks still
// apply to them.
const ScopePlatform = "platform"

// Subject represents who is requesting access. Immutable for the duration
// of one evaluation.
type Subject struct {
	ID               string    `json:"id" yaml:"id"`
	TenantID         string    `json:"tenant_id" yaml:"tenant_id"`
	Scope            string    `json:"scope,omitempty" yaml:"scope,omitempty"`
	Roles            []string  `json:"roles,omitempty" yaml:"roles,omitempty"`
	Groups           []string  `json:"groups,omitempty" yaml:"groups,omitempty"`
	Entitlements     []string  `json:"entitlements,omitempty" yaml:"entitlements,omitempty"` // "resourceID:action"
	Residency        string    `json:"residency" yaml:"residency"`
	Clearance        Clearance `json:"clearance" yaml:"clearance"`
	LevelOfAssurance int       `json:"level_of_assurance" yaml:"level_of_assurance"`
	RiskScore        float64   `json:"risk_score,omitempty" yaml:"risk_score,omitempty"`
}

// IsPlatform reports whether the subject operates at platform scope.
func (s *Subject) IsPlatform() bool { return s.Scope == ScopePlatform }

// Resource represents what is being accessed. Callers fetch it fresh per
// request; resources are never cached across tenants.
type Resource struct {
	ID             string    `json:"id" yaml:"id"`
	TenantID       string    `json:"tenant_id" yaml:"tenant_id"`
	Residency      string    `json:"residency" yaml:"residency"`
	Classification Clearance `json:"classification" yaml:"classification"`
	Tags           []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Action is an opaque identifier; the bundle classifies it as ordinary,
// protected or privileged.
type Action string

// Approval is one recorded approval for a dual-control action.
type Approval struct {
	ActorID string `json:"actor_id" yaml:"actor_id"`
	Role    string `json:"role" yaml:"role"`
}

// OverrideToken is a time-bounded, role-approved artifact lifting a
// freeze-window block for a scope and reason. Expired or insufficiently
// approved tokens are treated as absent.
type OverrideToken struct {
	ID         string    `json:"id" yaml:"id"`
	Scope      string    `json:"scope" yaml:"scope"`
	Reason     string    `json:"reason" yaml:"reason"`
	ApprovedBy []string  `json:"approved_by" yaml:"approved_by"` // roles
	ExpiresAt  time.Time `json:"expires_at" yaml:"expires_at"`
}

// IsExpired reports whether the token is no longer usable at the given time.
func (t *OverrideToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// RequestContext carries per-request evaluation context. Callers resolve
// approvals and override tokens before invoking the engine; evaluators
// perform no I/O.
type RequestContext struct {
	RequestTime      time.Time      `json:"request_time"`
	LevelOfAssurance int            `json:"level_of_assurance"`
	Approvals        []Approval     `json:"approvals,omitempty"`
	ProtectedActions []string       `json:"protected_actions,omitempty"` // catalog patterns, overrides bundle catalog when set
	Override         *OverrideToken `json:"override,omitempty"`
}

// ============================================================================
// DECISIONS
// ============================================================================

// Reason codes, ordered from most to least specific. The aggregator reports
// exactly one of these per decision.
const (
	ReasonTenantMismatch    = "tenant_mismatch"
	ReasonResidencyMismatch = "residency_mismatch"
	ReasonClearance         = "insufficient_clearance"
	ReasonLeastPrivilege    = "least_privilege_violation"
	ReasonDualControl       = "dual_control_required"
	ReasonGovernance        = "governance_violation"
	ReasonFreezeWindow      = "freeze_window"
	ReasonAllow             = "allow"
	ReasonNoValidBundle     = "no_valid_bundle"
	ReasonMalformedRequest  = "malformed_request"
	ReasonAggregationDefect = "aggregation_conflict"
)

// ObligationType identifies a condition the caller must still satisfy.
type ObligationType string

const (
	ObligationStepUp      ObligationType = "step_up"
	ObligationDualControl ObligationType = "dual_control"
)

// Obligation is attached to a decision independent of allow/deny.
type Obligation struct {
	Type   ObligationType `json:"type"`
	Detail string         `json:"detail,omitempty"`
}

// Violation names one failed rule. Violations are expected evaluation
// outcomes, not errors.
type Violation struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// Risk is the derived risk score and the signals that produced it.
type Risk struct {
	Score   float64  `json:"score"`
	Signals []string `json:"signals,omitempty"`
}

// Decision is the outcome of one evaluation. Denials always carry a
// machine-readable reason and, where applicable, the obligations needed to
// proceed.
type Decision struct {
	Allow         bool         `json:"allow"`
	Reason        string       `json:"reason"`
	Obligations   []Obligation `json:"obligations,omitempty"`
	Violations    []Violation  `json:"violations,omitempty"`
	Risk          Risk         `json:"risk"`
	Flags         []string     `json:"flags,omitempty"`
	BundleVersion string       `json:"bundle_version,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
	Trace         []string     `json:"trace,omitempty"`
}

// Clone returns a copy whose slices do not alias the receiver's, so a
// shared (cached) Decision cannot be mutated through a returned copy.
func (d *Decision) Clone() *Decision {
	out := *d
	out.Obligations = append([]Obligation(nil), d.Obligations...)
	out.Violations = append([]Violation(nil), d.Violations...)
	out.Flags = append([]string(nil), d.Flags...)
	out.Trace = append([]string(nil), d.Trace...)
	out.Risk.Signals = append([]string(nil), d.Risk.Signals...)
	return &out
}

// HasObligation reports whether the decision carries an obligation of the
// given type.
func (d *Decision) HasObligation(t ObligationType) bool {
	for _, o := range d.Obligations {
		if o.Type == t {
			return true
		}
	}
	return false
}

// Request bundles the resolved inputs for one evaluation.
type Request struct {
	RequestID string          `json:"request_id,omitempty"`
	Subject   *Subject        `json:"subject"`
	Resource  *Resource       `json:"resource"`
	Action    Action          `json:"action"`
	Context   *RequestContext `json:"context"`
	Entity    *EntityState    `json:"entity,omitempty"` // optional governance input
}

// ============================================================================
// GOVERNED ENTITY STATE
// ============================================================================

// EditAttempt records one field-edit request checked against the permission
// matrix.
type EditAttempt struct {
	ActorRole  string `json:"actor_role" yaml:"actor_role"`
	TargetType string `json:"target_type" yaml:"target_type"`
}

// EntityState is the snapshot of a governed record (deal, change request)
// that the governance rules evaluate. All timestamps are resolved by the
// caller.
type EntityState struct {
	ID                    string            `json:"id"`
	Stage                 string            `json:"stage"`
	PreviousStage         string            `json:"previous_stage,omitempty"`
	Fields                map[string]string `json:"fields,omitempty"` // named fields incl. evidence
	OwnerID               string            `json:"owner_id,omitempty"`
	NextStep              string            `json:"next_step,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	StageEnteredAt        time.Time         `json:"stage_entered_at"`
	LastActivityAt        time.Time         `json:"last_activity_at"`
	EngagementDepth       int               `json:"engagement_depth"`
	SecurityReviewPending bool              `json:"security_review_pending"`
	BuyingCommitteeSize   int               `json:"buying_committee_size"`
	ProcurementStarted    bool              `json:"procurement_started"`
	RequestedDiscountPct  float64           `json:"requested_discount_pct"`
	Edits                 []EditAttempt     `json:"edits,omitempty"`
}

// ============================================================================
// AUDIT
// ============================================================================

// AuditKind distinguishes decision records from bundle lifecycle records.
type AuditKind string

const (
	AuditDecision   AuditKind = "decision"
	AuditBundleSwap AuditKind = "bundle_swap"
)

// AuditEntry is one append-only record. Every Decision is recorded
// regardless of outcome, and every bundle swap is itself an audited event.
type AuditEntry struct {
	ID            string         `json:"id"`
	Kind          AuditKind      `json:"kind"`
	Timestamp     time.Time      `json:"timestamp"`
	RequestID     string         `json:"request_id,omitempty"`
	TenantID      string         `json:"tenant_id,omitempty"`
	SubjectID     string         `json:"subject_id,omitempty"`
	Action        Action         `json:"action,omitempty"`
	ResourceID    string         `json:"resource_id,omitempty"`
	BundleVersion string         `json:"bundle_version,omitempty"`
	Decision      *Decision      `json:"decision,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// AuditFilter selects entries when querying a sink that supports reads.
type AuditFilter struct {
	SubjectID  string
	ResourceID string
	Action     Action
	Kind       AuditKind
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}
