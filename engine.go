package pdp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/pdp/logger"
)

// AuditSink receives every decision and bundle swap. Records are appended
// before the decision is returned to the caller.
type AuditSink interface {
	Record(ctx context.Context, entry *AuditEntry) error
}

// Engine wires the bundle store, the evaluators and the audit sink into
// one decision point. Evaluation is stateless; the atomically swapped
// bundle snapshot is the only shared state.
type Engine struct {
	store       *Store
	sink        AuditSink
	logger      logger.Logger
	traceIDFunc logger.TraceIDFunc
	metrics     *Metrics
	cache       *ristretto.Cache
	cacheTTL    time.Duration
	now         func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine) error

// WithLogger installs a Logger on the engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// WithTraceIDFunc installs a custom trace ID generator.
func WithTraceIDFunc(f logger.TraceIDFunc) EngineOption {
	return func(e *Engine) error {
		e.traceIDFunc = f
		return nil
	}
}

// WithMetrics wires prometheus collectors.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// WithDecisionCache enables a ristretto-backed decision cache. Identical
// requests against the same bundle version replay the cached Decision
// within the TTL; the cache is flushed on every bundle swap via Decide's
// version-scoped keys.
func WithDecisionCache(numCounters, maxCost, bufferItems int64, ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: numCounters,
			MaxCost:     maxCost,
			BufferItems: bufferItems,
		})
		if err != nil {
			return fmt.Errorf("decision cache: %w", err)
		}
		e.cache = cache
		if ttl > 0 {
			e.cacheTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the engine clock, used in tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) error {
		e.now = now
		return nil
	}
}

func NewEngine(store *Store, sink AuditSink, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("bundle store is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("audit sink is required")
	}
	e := &Engine{
		store:    store,
		sink:     sink,
		logger:   logger.Null{},
		cacheTTL: time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Decide evaluates one request. Malformed input is rejected before
// evaluation and never defaults to allow; a missing verified bundle fails
// closed. The audit record is emitted before the Decision is returned.
func (e *Engine) Decide(ctx context.Context, req *Request) (*Decision, error) {
	return e.decide(ctx, req, false)
}

// Explain evaluates like Decide but keeps the per-check trace on the
// Decision. Explained decisions bypass the cache.
func (e *Engine) Explain(ctx context.Context, req *Request) (*Decision, error) {
	return e.decide(ctx, req, true)
}

func (e *Engine) decide(ctx context.Context, req *Request, includeTrace bool) (*Decision, error) {
	start := e.now()
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	bundle := e.store.Active()
	if bundle == nil {
		dec := &Decision{
			Allow:     false,
			Reason:    ReasonNoValidBundle,
			Timestamp: start,
			Violations: []Violation{
				{Code: ReasonNoValidBundle, Detail: "no bundle has ever verified"},
			},
		}
		if err := e.audit(ctx, req, dec); err != nil {
			return nil, err
		}
		e.observe(dec, start)
		return dec, nil
	}

	key := ""
	if e.cache != nil && !includeTrace {
		key = cacheKey(req, bundle.Version)
		if v, ok := e.cache.Get(key); ok {
			if cached, ok := v.(*Decision); ok {
				// Replayed decisions are still audited before they are
				// returned, and each caller gets its own copy.
				dec := cached.Clone()
				dec.Timestamp = start
				if err := e.audit(ctx, req, dec); err != nil {
					return nil, err
				}
				e.observe(dec, start)
				return dec, nil
			}
		}
	}

	abac := EvaluateABAC(req.Subject, req.Resource, req.Action, req.Context, bundle)
	freeze := EvaluateFreeze(bundle.Rules.FreezeWindows, bundle.Rules.OverrideApproverRoles, req.Context.Override, req.Context.RequestTime)
	gov := EvaluateGovernance(req.Entity, &bundle.Rules.Governance, req.Context.RequestTime)

	dec := Aggregate(abac, freeze, gov, start)
	dec.BundleVersion = bundle.Version

	// Structurally unreachable given the fixed precedence; resolve to deny
	// and log as a defect if it ever happens.
	if dec.Allow && dec.HasObligation(ObligationDualControl) {
		e.logger.Error("aggregation conflict", "request_id", req.RequestID, "reason", dec.Reason)
		dec.Allow = false
		dec.Reason = ReasonAggregationDefect
	}

	if !includeTrace {
		dec.Trace = nil
	}

	if err := e.audit(ctx, req, dec); err != nil {
		return nil, err
	}
	e.observe(dec, start)

	if e.cache != nil && key != "" {
		cached := dec.Clone()
		cached.Trace = nil
		e.cache.SetWithTTL(key, cached, 1, e.cacheTTL)
	}
	return dec, nil
}

// DecideBatch evaluates multiple requests in order.
func (e *Engine) DecideBatch(ctx context.Context, reqs []*Request) ([]*Decision, error) {
	decisions := make([]*Decision, len(reqs))
	for i, req := range reqs {
		dec, err := e.Decide(ctx, req)
		if err != nil {
			return nil, err
		}
		decisions[i] = dec
	}
	return decisions, nil
}

// Replay re-evaluates a request at its recorded time and reports whether
// the outcome still matches the recorded decision.
func (e *Engine) Replay(ctx context.Context, req *Request, recorded *Decision) (*Decision, bool, error) {
	if recorded == nil {
		return nil, false, fmt.Errorf("recorded decision is nil")
	}
	dec, err := e.Decide(ctx, req)
	if err != nil {
		return nil, false, err
	}
	match := dec.Allow == recorded.Allow && dec.Reason == recorded.Reason
	return dec, match, nil
}

func (e *Engine) audit(ctx context.Context, req *Request, dec *Decision) error {
	id := ""
	if e.traceIDFunc != nil {
		id = e.traceIDFunc()
	}
	if id == "" {
		id = fmt.Sprintf("dec-%d", e.now().UnixNano())
	}
	entry := &AuditEntry{
		ID:            id,
		Kind:          AuditDecision,
		Timestamp:     dec.Timestamp,
		RequestID:     req.RequestID,
		TenantID:      req.Resource.TenantID,
		SubjectID:     req.Subject.ID,
		Action:        req.Action,
		ResourceID:    req.Resource.ID,
		BundleVersion: dec.BundleVersion,
		Decision:      dec,
	}
	if err := e.sink.Record(ctx, entry); err != nil {
		if e.metrics != nil {
			e.metrics.AuditFailure()
		}
		e.logger.Error("audit emit failed", "request_id", req.RequestID, "error", err.Error())
		return fmt.Errorf("audit decision: %w", err)
	}
	e.logger.Info("decision",
		"request_id", req.RequestID,
		"tenant", req.Resource.TenantID,
		"subject", req.Subject.ID,
		"action", string(req.Action),
		"resource", req.Resource.ID,
		"allow", dec.Allow,
		"reason", dec.Reason,
	)
	return nil
}

func (e *Engine) observe(dec *Decision, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.Decision(dec.Allow, dec.Reason)
	e.metrics.ObserveEvaluation(e.now().Sub(start))
}

func validateRequest(req *Request) error {
	if req == nil {
		return inputErr("request", "nil request")
	}
	if req.Subject == nil {
		return inputErr("subject", "required")
	}
	if req.Subject.ID == "" {
		return inputErr("subject.id", "required")
	}
	if req.Subject.TenantID == "" {
		return inputErr("subject.tenant_id", "required")
	}
	if req.Subject.Residency == "" {
		return inputErr("subject.residency", "required")
	}
	if req.Resource == nil {
		return inputErr("resource", "required")
	}
	if req.Resource.ID == "" {
		return inputErr("resource.id", "required")
	}
	if req.Resource.TenantID == "" {
		return inputErr("resource.tenant_id", "required")
	}
	if req.Resource.Residency == "" {
		return inputErr("resource.residency", "required")
	}
	if req.Action == "" {
		return inputErr("action", "required")
	}
	if req.Context == nil {
		return inputErr("context", "required")
	}
	if req.Context.RequestTime.IsZero() {
		return inputErr("context.request_time", "required")
	}
	return nil
}

// cacheKey digests the full request so identical tuples against the same
// bundle version share one entry; any attribute change misses.
func cacheKey(req *Request, bundleVersion string) string {
	data, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(append(data, []byte(bundleVersion)...))
	return hex.EncodeToString(sum[:])
}
