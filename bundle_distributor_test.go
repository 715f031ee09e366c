package pdp_test

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	pdp "github.com/oarkflow/pdp"
)

func staticRules() pdp.RuleSourceFunc {
	return func(ctx context.Context) (*pdp.RuleConfig, string, error) {
		return &pdp.RuleConfig{
			PrivilegedActions: []string{"deal.delete"},
		}, "2026.5", nil
	}
}

func TestBundleDistributorPublishesSignedBundles(t *testing.T) {
	dist, err := pdp.NewBundleDistributor("policy-admin", staticRules())
	if err != nil {
		t.Fatalf("new distributor: %v", err)
	}

	received := make(chan *pdp.Bundle, 1)
	var gotKey ed25519.PublicKey
	var gotKeyVersion string
	dist.RegisterSubscriber(pdp.BundleSubscriberFunc(func(ctx context.Context, keyVersion string, pub ed25519.PublicKey, bundle *pdp.Bundle) error {
		gotKey = pub
		gotKeyVersion = keyVersion
		received <- bundle
		return nil
	}))
	dist.Start(context.Background())
	dist.NotifyRuleChange()

	var bundle *pdp.Bundle
	select {
	case bundle = <-received:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for bundle")
	}

	if bundle.Version != "2026.5" || bundle.SignerID != "policy-admin" {
		t.Fatalf("unexpected bundle header: %+v", bundle)
	}

	// The published bundle must verify against the announced key.
	store := pdp.NewStore(pdp.WithPinnedKey(gotKeyVersion, gotKey))
	if err := store.Install(context.Background(), bundle); err != nil {
		t.Fatalf("published bundle failed verification: %v", err)
	}

	if err := dist.Stop(context.Background()); err != nil {
		t.Fatalf("stop distributor: %v", err)
	}
}

func TestBundleDistributorKeyRotationBumpsVersion(t *testing.T) {
	dist, err := pdp.NewBundleDistributor("policy-admin", staticRules())
	if err != nil {
		t.Fatalf("new distributor: %v", err)
	}
	v1, k1 := dist.CurrentKey()
	if err := dist.RotateSigningKey(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	v2, k2 := dist.CurrentKey()
	if v1 == v2 {
		t.Fatalf("rotation must bump the key version, got %s twice", v1)
	}
	if string(k1) == string(k2) {
		t.Fatalf("rotation must change the public key")
	}
}
