package pdp

import "time"

// Builders provide a fluent API for assembling requests and bundles

// RequestBuilder builds a Request
type RequestBuilder struct {
	req *Request
}

func NewRequestBuilder() *RequestBuilder {
	return &RequestBuilder{req: &Request{
		Subject:  &Subject{},
		Resource: &Resource{},
		Context:  &RequestContext{},
	}}
}

func (b *RequestBuilder) ID(id string) *RequestBuilder { b.req.RequestID = id; return b }
func (b *RequestBuilder) Subject(id, tenantID, residency string, clearance Clearance) *RequestBuilder {
	b.req.Subject.ID = id
	b.req.Subject.TenantID = tenantID
	b.req.Subject.Residency = residency
	b.req.Subject.Clearance = clearance
	return b
}
func (b *RequestBuilder) PlatformScope() *RequestBuilder {
	b.req.Subject.Scope = ScopePlatform
	return b
}
func (b *RequestBuilder) Entitlements(e ...string) *RequestBuilder {
	b.req.Subject.Entitlements = append(b.req.Subject.Entitlements, e...)
	return b
}
func (b *RequestBuilder) Resource(id, tenantID, residency string, classification Clearance) *RequestBuilder {
	b.req.Resource.ID = id
	b.req.Resource.TenantID = tenantID
	b.req.Resource.Residency = residency
	b.req.Resource.Classification = classification
	return b
}
func (b *RequestBuilder) Action(a Action) *RequestBuilder { b.req.Action = a; return b }
func (b *RequestBuilder) At(t time.Time) *RequestBuilder {
	b.req.Context.RequestTime = t
	return b
}
func (b *RequestBuilder) Assurance(loa int) *RequestBuilder {
	b.req.Context.LevelOfAssurance = loa
	return b
}
func (b *RequestBuilder) Approval(actorID, role string) *RequestBuilder {
	b.req.Context.Approvals = append(b.req.Context.Approvals, Approval{ActorID: actorID, Role: role})
	return b
}
func (b *RequestBuilder) Override(token *OverrideToken) *RequestBuilder {
	b.req.Context.Override = token
	return b
}
func (b *RequestBuilder) Entity(e *EntityState) *RequestBuilder { b.req.Entity = e; return b }
func (b *RequestBuilder) Build() *Request                       { return b.req }

// BundleBuilder builds an unsigned Bundle
type BundleBuilder struct {
	b *Bundle
}

func NewBundleBuilder() *BundleBuilder {
	return &BundleBuilder{b: &Bundle{Algorithm: AlgorithmEd25519}}
}

func (b *BundleBuilder) Version(v string) *BundleBuilder { b.b.Version = v; return b }
func (b *BundleBuilder) Signer(id, keyVersion string) *BundleBuilder {
	b.b.SignerID = id
	b.b.KeyVersion = keyVersion
	return b
}
func (b *BundleBuilder) ExpiresAt(t time.Time) *BundleBuilder { b.b.ExpiresAt = t; return b }
func (b *BundleBuilder) MinAssurance(clearance string, loa int) *BundleBuilder {
	if b.b.Rules.MinAssurance == nil {
		b.b.Rules.MinAssurance = make(map[string]int)
	}
	b.b.Rules.MinAssurance[clearance] = loa
	return b
}
func (b *BundleBuilder) PrivilegedActions(patterns ...string) *BundleBuilder {
	b.b.Rules.PrivilegedActions = append(b.b.Rules.PrivilegedActions, patterns...)
	return b
}
func (b *BundleBuilder) ProtectedActions(patterns ...string) *BundleBuilder {
	b.b.Rules.ProtectedActions = append(b.b.Rules.ProtectedActions, patterns...)
	return b
}
func (b *BundleBuilder) ApproverRoles(action string, roles ...string) *BundleBuilder {
	if b.b.Rules.ApproverRoles == nil {
		b.b.Rules.ApproverRoles = make(map[string][]string)
	}
	b.b.Rules.ApproverRoles[action] = roles
	return b
}
func (b *BundleBuilder) FreezeWindow(w FreezeWindow) *BundleBuilder {
	b.b.Rules.FreezeWindows = append(b.b.Rules.FreezeWindows, w)
	return b
}
func (b *BundleBuilder) OverrideRoles(scope string, roles ...string) *BundleBuilder {
	if b.b.Rules.OverrideApproverRoles == nil {
		b.b.Rules.OverrideApproverRoles = make(map[string][]string)
	}
	b.b.Rules.OverrideApproverRoles[scope] = roles
	return b
}
func (b *BundleBuilder) Governance(cfg GovernanceConfig) *BundleBuilder {
	b.b.Rules.Governance = cfg
	return b
}
func (b *BundleBuilder) Build() *Bundle { return b.b }
