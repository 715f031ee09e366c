package pdp

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/pdp/logger"
)

// RuleSource supplies the current rule configuration on the signer side.
type RuleSource interface {
	CurrentRules(ctx context.Context) (*RuleConfig, string, error)
}

// RuleSourceFunc adapts a function to a RuleSource.
type RuleSourceFunc func(ctx context.Context) (*RuleConfig, string, error)

func (f RuleSourceFunc) CurrentRules(ctx context.Context) (*RuleConfig, string, error) {
	return f(ctx)
}

// BundleSubscriber receives freshly signed bundles together with the
// key version and public key that verifies them.
type BundleSubscriber interface {
	OnBundle(ctx context.Context, keyVersion string, pub ed25519.PublicKey, bundle *Bundle) error
}

type BundleSubscriberFunc func(ctx context.Context, keyVersion string, pub ed25519.PublicKey, bundle *Bundle) error

func (f BundleSubscriberFunc) OnBundle(ctx context.Context, keyVersion string, pub ed25519.PublicKey, bundle *Bundle) error {
	return f(ctx, keyVersion, pub, bundle)
}

// BundleDistributor is the signer-side counterpart of the Store. It
// signs rule configurations into bundles, fans them out to subscribers,
// and rotates the signing key on an interval. Each rotation bumps the
// key version so verifiers can pin keys per version.
type BundleDistributor struct {
	source           RuleSource
	signerID         string
	pub              ed25519.PublicKey
	priv             ed25519.PrivateKey
	keyVersion       int
	bundleTTL        time.Duration
	rotationInterval time.Duration
	logger           logger.Logger
	notifyCh         chan struct{}
	stopCh           chan struct{}
	subscribers      []BundleSubscriber
	mu               sync.RWMutex
	started          bool
	wg               sync.WaitGroup
}

type BundleDistributorOption func(*BundleDistributor)

func WithSigningKey(priv ed25519.PrivateKey) BundleDistributorOption {
	return func(d *BundleDistributor) {
		if priv != nil && len(priv) == ed25519.PrivateKeySize {
			d.priv = append(ed25519.PrivateKey{}, priv...)
			d.pub = priv.Public().(ed25519.PublicKey)
		}
	}
}

func WithRotationInterval(interval time.Duration) BundleDistributorOption {
	return func(d *BundleDistributor) {
		if interval > 0 {
			d.rotationInterval = interval
		}
	}
}

func WithBundleTTL(ttl time.Duration) BundleDistributorOption {
	return func(d *BundleDistributor) {
		if ttl > 0 {
			d.bundleTTL = ttl
		}
	}
}

func WithDistributorLogger(l logger.Logger) BundleDistributorOption {
	return func(d *BundleDistributor) {
		if l != nil {
			d.logger = l
		}
	}
}

func NewBundleDistributor(signerID string, source RuleSource, opts ...BundleDistributorOption) (*BundleDistributor, error) {
	if source == nil {
		return nil, fmt.Errorf("rule source is required")
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	dist := &BundleDistributor{
		source:           source,
		signerID:         signerID,
		priv:             priv,
		pub:              pub,
		keyVersion:       1,
		bundleTTL:        24 * time.Hour,
		rotationInterval: 24 * time.Hour,
		logger:           logger.Null{},
		notifyCh:         make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(dist)
	}
	return dist, nil
}

func (d *BundleDistributor) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.rotationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-d.notifyCh:
				if err := d.distribute(ctx); err != nil {
					d.logger.Error("bundle distribution failed", "error", err.Error())
				}
			case <-ticker.C:
				if err := d.RotateSigningKey(); err != nil {
					d.logger.Error("signing key rotation failed", "error", err.Error())
					continue
				}
				// Re-sign under the new key so verifiers never hold a
				// bundle signed by a retired version.
				if err := d.distribute(ctx); err != nil {
					d.logger.Error("bundle distribution failed", "error", err.Error())
				}
			}
		}
	}()
}

func (d *BundleDistributor) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.mu.Unlock()

	close(d.stopCh)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// NotifyRuleChange schedules a re-sign and fanout. Coalesces bursts.
func (d *BundleDistributor) NotifyRuleChange() {
	select {
	case d.notifyCh <- struct{}{}:
	default:
	}
}

func (d *BundleDistributor) RegisterSubscriber(sub BundleSubscriber) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, sub)
}

func (d *BundleDistributor) RotateSigningKey() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.priv = priv
	d.pub = pub
	d.keyVersion++
	d.mu.Unlock()
	return nil
}

// CurrentKey returns the active key version and a copy of the public key.
func (d *BundleDistributor) CurrentKey() (string, ed25519.PublicKey) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return fmt.Sprintf("v%d", d.keyVersion), append(ed25519.PublicKey(nil), d.pub...)
}

// Distribute signs the current rules and fans the bundle out once.
func (d *BundleDistributor) Distribute(ctx context.Context) error {
	return d.distribute(ctx)
}

func (d *BundleDistributor) distribute(ctx context.Context) error {
	rules, version, err := d.source.CurrentRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if rules == nil {
		return fmt.Errorf("rule source returned no rules")
	}

	d.mu.RLock()
	priv := d.priv
	keyVersion := fmt.Sprintf("v%d", d.keyVersion)
	d.mu.RUnlock()

	bundle := &Bundle{
		Version:    version,
		SignerID:   d.signerID,
		KeyVersion: keyVersion,
		Algorithm:  AlgorithmEd25519,
		ExpiresAt:  time.Now().UTC().Add(d.bundleTTL),
		Rules:      *rules,
	}
	if err := SignBundle(priv, bundle); err != nil {
		return fmt.Errorf("sign bundle: %w", err)
	}

	for _, sub := range d.collectSubscribers() {
		if err := sub.OnBundle(ctx, bundle.KeyVersion, d.publicKey(), bundle); err != nil {
			d.logger.Error("bundle subscriber error", "version", bundle.Version, "error", err.Error())
		}
	}
	d.logger.Info("bundle distributed", "version", bundle.Version, "key_version", bundle.KeyVersion)
	return nil
}

func (d *BundleDistributor) publicKey() ed25519.PublicKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append(ed25519.PublicKey(nil), d.pub...)
}

func (d *BundleDistributor) collectSubscribers() []BundleSubscriber {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]BundleSubscriber(nil), d.subscribers...)
}
