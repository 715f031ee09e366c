package pdp

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/pdp/logger"
)

// AlgorithmEd25519 is the only signature algorithm the store accepts by
// default. Unsupported algorithms are rejected even when the signature
// itself is well-formed.
const AlgorithmEd25519 = "ed25519"

// GovernanceConfig is the bundle-supplied configuration for the governance
// rules. Thresholds and weights are tenant policy data, never code.
type GovernanceConfig struct {
	StageOrder            []string            `json:"stage_order" yaml:"stage_order"`
	StageEvidence         map[string][]string `json:"stage_evidence" yaml:"stage_evidence"` // stage -> required evidence fields
	NamingPatterns        map[string]string   `json:"naming_patterns" yaml:"naming_patterns"`
	SLAThresholdDays      map[string]int      `json:"sla_threshold_days" yaml:"sla_threshold_days"` // category -> days
	RiskWeights           map[string]float64  `json:"risk_weights" yaml:"risk_weights"`
	StaleAfterDays        int                 `json:"stale_after_days" yaml:"stale_after_days"`
	StalledStageAfterDays int                 `json:"stalled_stage_after_days" yaml:"stalled_stage_after_days"`
	MinEngagementDepth    int                 `json:"min_engagement_depth" yaml:"min_engagement_depth"`
	MinCommitteeSize      int                 `json:"min_committee_size" yaml:"min_committee_size"`
	DiscountTiers         []DiscountTier      `json:"discount_tiers" yaml:"discount_tiers"`
	PermissionMatrix      map[string][]string `json:"permission_matrix" yaml:"permission_matrix"` // role -> editable target types
	Timezone              string              `json:"timezone" yaml:"timezone"`
}

// RuleConfig is the versioned rule configuration a bundle carries. It can
// tighten but never relax the code-level invariants (tenant isolation,
// dual-control minimum).
type RuleConfig struct {
	MinAssurance          map[string]int      `json:"min_assurance" yaml:"min_assurance"` // clearance name -> required LoA
	PrivilegedActions     []string            `json:"privileged_actions" yaml:"privileged_actions"`
	ProtectedActions      []string            `json:"protected_actions" yaml:"protected_actions"`
	ApproverRoles         map[string][]string `json:"approver_roles" yaml:"approver_roles"` // action -> allowed approver roles
	FreezeWindows         []FreezeWindow      `json:"freeze_windows" yaml:"freeze_windows"`
	OverrideApproverRoles map[string][]string `json:"override_approver_roles" yaml:"override_approver_roles"` // window scope -> required roles
	Governance            GovernanceConfig    `json:"governance" yaml:"governance"`
}

// Bundle is a signed, versioned rule configuration artifact. The store only
// consumes and verifies bundles; an external signer produces them.
type Bundle struct {
	Version    string     `json:"version" yaml:"version"`
	SignerID   string     `json:"signer_id" yaml:"signer_id"`
	KeyVersion string     `json:"key_version" yaml:"key_version"`
	Algorithm  string     `json:"algorithm" yaml:"algorithm"`
	Signature  []byte     `json:"signature" yaml:"signature"`
	ExpiresAt  time.Time  `json:"expires_at" yaml:"expires_at"`
	Rules      RuleConfig `json:"rules" yaml:"rules"`
}

// Digest returns the canonical signing digest: sha256 over the JSON form of
// everything except the signature itself. The digest is independent of the
// container encoding (yaml/json/binary).
func (b *Bundle) Digest() ([]byte, error) {
	data, err := json.Marshal(struct {
		Version    string     `json:"version"`
		SignerID   string     `json:"signer_id"`
		KeyVersion string     `json:"key_version"`
		Algorithm  string     `json:"algorithm"`
		ExpiresAt  time.Time  `json:"expires_at"`
		Rules      RuleConfig `json:"rules"`
	}{b.Version, b.SignerID, b.KeyVersion, b.Algorithm, b.ExpiresAt, b.Rules})
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// SignBundle signs the bundle digest with the private key and stores the
// signature on the bundle. Used by the distributor and the CLI, never by
// the store.
func SignBundle(priv ed25519.PrivateKey, b *Bundle) error {
	if b.Algorithm == "" {
		b.Algorithm = AlgorithmEd25519
	}
	digest, err := b.Digest()
	if err != nil {
		return err
	}
	b.Signature = ed25519.Sign(priv, digest)
	return nil
}

// RequiredAssurance returns the minimum level of assurance for a
// classification. Classifications at or above confidential default to 2
// when the bundle has no entry; lower levels default to 0.
func (rc *RuleConfig) RequiredAssurance(c Clearance) int {
	if v, ok := rc.MinAssurance[c.String()]; ok {
		return v
	}
	if c >= ClearanceConfidential {
		return 2
	}
	return 0
}

// activeBundle is the immutable snapshot the store swaps atomically. Every
// in-flight evaluation sees exactly one snapshot.
type activeBundle struct {
	bundle      *Bundle
	installedAt time.Time
}

// Store loads, verifies and version-gates rule configuration. A failed
// verification never evicts a previously valid bundle; if no bundle has
// ever verified, every decision defaults to deny.
type Store struct {
	active     atomic.Pointer[activeBundle]
	mu         sync.RWMutex
	keys       map[string]ed25519.PublicKey // keyVersion -> pinned key
	algorithms map[string]bool
	sink       AuditSink
	logger     logger.Logger
	metrics    *Metrics
	now        func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPinnedKey pins a verification key under a key version. Bundles
// referencing an unknown key version fail verification.
func WithPinnedKey(keyVersion string, pub ed25519.PublicKey) StoreOption {
	return func(s *Store) {
		s.keys[keyVersion] = append(ed25519.PublicKey(nil), pub...)
	}
}

// WithStoreAuditSink wires the sink that records bundle swaps.
func WithStoreAuditSink(sink AuditSink) StoreOption {
	return func(s *Store) { s.sink = sink }
}

// WithStoreLogger installs a logger on the store.
func WithStoreLogger(l logger.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithStoreMetrics wires prometheus collectors for swaps and staleness.
func WithStoreMetrics(m *Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// WithStoreClock overrides the store clock, used in tests.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		keys:       make(map[string]ed25519.PublicKey),
		algorithms: map[string]bool{AlgorithmEd25519: true},
		logger:     logger.Null{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics != nil {
		s.metrics.ObserveBundleAge(s.Staleness)
	}
	return s
}

// Verify checks the bundle against the pinned key set, the algorithm
// allow-list and its expiry. It reports every failure reason, not just the
// first.
func (s *Store) Verify(b *Bundle) (bool, []string) {
	reasons := make([]string, 0)
	if b == nil {
		return false, []string{"nil bundle"}
	}
	if b.Version == "" {
		reasons = append(reasons, "missing version")
	}
	if !s.algorithms[b.Algorithm] {
		reasons = append(reasons, fmt.Sprintf("unsupported algorithm %q", b.Algorithm))
	}
	if !b.ExpiresAt.IsZero() && !s.now().Before(b.ExpiresAt) {
		reasons = append(reasons, "bundle expired")
	}
	s.mu.RLock()
	pub, ok := s.keys[b.KeyVersion]
	s.mu.RUnlock()
	if !ok {
		reasons = append(reasons, fmt.Sprintf("unknown key version %q", b.KeyVersion))
	} else if s.algorithms[b.Algorithm] {
		digest, err := b.Digest()
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("digest: %v", err))
		} else if len(b.Signature) == 0 || !ed25519.Verify(pub, digest, b.Signature) {
			reasons = append(reasons, "signature invalid")
		}
	}
	return len(reasons) == 0, reasons
}

// Install verifies the bundle and promotes it to the active snapshot. On
// failure the previously active bundle is retained and a BundleError is
// returned. Every swap attempt is audited with old/new versions and the
// verifier reasons.
func (s *Store) Install(ctx context.Context, b *Bundle) error {
	oldVersion := s.ActiveVersion()
	ok, reasons := s.Verify(b)
	if !ok {
		s.auditSwap(ctx, oldVersion, b, false, reasons)
		if s.metrics != nil {
			s.metrics.BundleSwap("rejected")
		}
		s.logger.Error("bundle rejected", "version", bundleVersion(b), "reasons", reasons)
		return &BundleError{Version: bundleVersion(b), Reasons: reasons}
	}
	s.active.Store(&activeBundle{bundle: b, installedAt: s.now()})
	s.auditSwap(ctx, oldVersion, b, true, nil)
	if s.metrics != nil {
		s.metrics.BundleSwap("installed")
	}
	s.logger.Info("bundle installed", "old_version", oldVersion, "version", b.Version, "signer", b.SignerID)
	return nil
}

// Active returns the current verified bundle, or nil when no bundle has
// ever verified.
func (s *Store) Active() *Bundle {
	if ab := s.active.Load(); ab != nil {
		return ab.bundle
	}
	return nil
}

// ActiveVersion returns the active bundle version, or "" when none.
func (s *Store) ActiveVersion() string {
	if ab := s.active.Load(); ab != nil {
		return ab.bundle.Version
	}
	return ""
}

// Staleness is the age of the active bundle. Zero when no bundle is active.
func (s *Store) Staleness() time.Duration {
	ab := s.active.Load()
	if ab == nil {
		return 0
	}
	return s.now().Sub(ab.installedAt)
}

func (s *Store) auditSwap(ctx context.Context, oldVersion string, b *Bundle, installed bool, reasons []string) {
	if s.sink == nil {
		return
	}
	meta := map[string]any{
		"old_version": oldVersion,
		"new_version": bundleVersion(b),
		"installed":   installed,
	}
	if len(reasons) > 0 {
		meta["reasons"] = reasons
	}
	entry := &AuditEntry{
		ID:            fmt.Sprintf("swap-%d", s.now().UnixNano()),
		Kind:          AuditBundleSwap,
		Timestamp:     s.now(),
		BundleVersion: bundleVersion(b),
		Metadata:      meta,
	}
	if err := s.sink.Record(ctx, entry); err != nil {
		s.logger.Error("bundle swap audit failed", "error", err.Error())
	}
}

func bundleVersion(b *Bundle) string {
	if b == nil {
		return ""
	}
	return b.Version
}
