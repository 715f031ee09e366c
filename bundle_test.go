package pdp

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []*AuditEntry
	fail    bool
}

func (s *recordingSink) Record(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return context.DeadlineExceeded
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingSink) byKind(kind AuditKind) []*AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*AuditEntry, 0)
	for _, e := range s.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func signedBundle(t *testing.T, priv ed25519.PrivateKey, version string) *Bundle {
	t.Helper()
	b := &Bundle{
		Version:    version,
		SignerID:   "policy-admin",
		KeyVersion: "v1",
		Algorithm:  AlgorithmEd25519,
		ExpiresAt:  time.Now().Add(24 * time.Hour),
		Rules: RuleConfig{
			PrivilegedActions: []string{"deal.delete"},
		},
	}
	if err := SignBundle(priv, b); err != nil {
		t.Fatalf("sign bundle: %v", err)
	}
	return b
}

func testKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func TestStoreInstallAndActivate(t *testing.T) {
	pub, priv := testKeyPair(t)
	store := NewStore(WithPinnedKey("v1", pub))

	b := signedBundle(t, priv, "2026.1")
	if err := store.Install(context.Background(), b); err != nil {
		t.Fatalf("install: %v", err)
	}
	if store.ActiveVersion() != "2026.1" {
		t.Fatalf("expected active version 2026.1, got %s", store.ActiveVersion())
	}
}

func TestStoreFailsClosedWithoutBundle(t *testing.T) {
	store := NewStore()
	if store.Active() != nil {
		t.Fatalf("fresh store must have no active bundle")
	}
}

func TestStoreKeepsLastKnownGoodOnTamper(t *testing.T) {
	pub, priv := testKeyPair(t)
	store := NewStore(WithPinnedKey("v1", pub))

	good := signedBundle(t, priv, "2026.1")
	if err := store.Install(context.Background(), good); err != nil {
		t.Fatalf("install good: %v", err)
	}

	tampered := signedBundle(t, priv, "2026.2")
	tampered.Rules.PrivilegedActions = nil // mutate after signing
	err := store.Install(context.Background(), tampered)
	if err == nil {
		t.Fatalf("tampered bundle must be rejected")
	}
	if _, ok := err.(*BundleError); !ok {
		t.Fatalf("expected BundleError, got %T", err)
	}
	if store.ActiveVersion() != "2026.1" {
		t.Fatalf("last known good must be retained, got %s", store.ActiveVersion())
	}
}

func TestStoreRejectsExpiredBundle(t *testing.T) {
	pub, priv := testKeyPair(t)
	store := NewStore(WithPinnedKey("v1", pub))

	b := signedBundle(t, priv, "2026.1")
	b.ExpiresAt = time.Now().Add(-time.Hour)
	if err := SignBundle(priv, b); err != nil {
		t.Fatalf("re-sign: %v", err)
	}
	if err := store.Install(context.Background(), b); err == nil {
		t.Fatalf("expired bundle must be rejected")
	}
}

func TestStoreRejectsUnsupportedAlgorithm(t *testing.T) {
	pub, priv := testKeyPair(t)
	store := NewStore(WithPinnedKey("v1", pub))

	b := signedBundle(t, priv, "2026.1")
	b.Algorithm = "rsa-pss"
	err := store.Install(context.Background(), b)
	if err == nil {
		t.Fatalf("unsupported algorithm must be rejected")
	}
}

func TestStoreRejectsUnknownKeyVersion(t *testing.T) {
	pub, priv := testKeyPair(t)
	store := NewStore(WithPinnedKey("v1", pub))

	b := signedBundle(t, priv, "2026.1")
	b.KeyVersion = "v9"
	if err := SignBundle(priv, b); err != nil {
		t.Fatalf("re-sign: %v", err)
	}
	if err := store.Install(context.Background(), b); err == nil {
		t.Fatalf("unknown key version must be rejected")
	}
}

func TestStoreVerifyReportsAllReasons(t *testing.T) {
	store := NewStore()
	b := &Bundle{Algorithm: "none", KeyVersion: "missing"}
	ok, reasons := store.Verify(b)
	if ok {
		t.Fatalf("expected verification failure")
	}
	if len(reasons) < 3 {
		t.Fatalf("expected all failure reasons reported, got %v", reasons)
	}
}

func TestStoreAuditsEverySwapAttempt(t *testing.T) {
	pub, priv := testKeyPair(t)
	sink := &recordingSink{}
	store := NewStore(WithPinnedKey("v1", pub), WithStoreAuditSink(sink))

	good := signedBundle(t, priv, "2026.1")
	if err := store.Install(context.Background(), good); err != nil {
		t.Fatalf("install: %v", err)
	}

	bad := signedBundle(t, priv, "2026.2")
	bad.Signature = nil
	_ = store.Install(context.Background(), bad)

	swaps := sink.byKind(AuditBundleSwap)
	if len(swaps) != 2 {
		t.Fatalf("expected 2 swap audit entries, got %d", len(swaps))
	}
	if swaps[0].Metadata["installed"] != true {
		t.Fatalf("first swap should record success: %v", swaps[0].Metadata)
	}
	if swaps[1].Metadata["installed"] != false {
		t.Fatalf("second swap should record rejection: %v", swaps[1].Metadata)
	}
	if swaps[1].Metadata["old_version"] != "2026.1" {
		t.Fatalf("rejected swap must name the retained version: %v", swaps[1].Metadata)
	}
}

func TestStoreStaleness(t *testing.T) {
	pub, priv := testKeyPair(t)
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store := NewStore(WithPinnedKey("v1", pub), WithStoreClock(func() time.Time { return now }))

	b := signedBundle(t, priv, "2026.1")
	b.ExpiresAt = base.Add(48 * time.Hour)
	if err := SignBundle(priv, b); err != nil {
		t.Fatalf("re-sign: %v", err)
	}
	if err := store.Install(context.Background(), b); err != nil {
		t.Fatalf("install: %v", err)
	}

	now = base.Add(3 * time.Hour)
	if got := store.Staleness(); got != 3*time.Hour {
		t.Fatalf("expected staleness 3h, got %v", got)
	}
}

func TestBundleDigestIndependentOfSignature(t *testing.T) {
	_, priv := testKeyPair(t)
	b := signedBundle(t, priv, "2026.1")
	d1, err := b.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	b.Signature = []byte("garbage")
	d2, err := b.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if string(d1) != string(d2) {
		t.Fatalf("digest must not cover the signature")
	}
}
