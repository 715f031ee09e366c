package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/pdp"
)

// SQLAuditSink persists the decision log in SQL.
type SQLAuditSink struct {
	db *squealx.DB
}

func NewSQLAuditSink(db *squealx.DB) (*SQLAuditSink, error) {
	return &SQLAuditSink{db: db}, nil
}

func (s *SQLAuditSink) Record(ctx context.Context, entry *pdp.AuditEntry) error {
	decB, _ := json.Marshal(entry.Decision)
	metaB, _ := json.Marshal(entry.Metadata)
	allowed := 0
	reason := ""
	if entry.Decision != nil {
		allowed = boolToInt(entry.Decision.Allow)
		reason = entry.Decision.Reason
	}
	q := `INSERT INTO decision_log(id, kind, timestamp, request_id, tenant_id, subject_id, action, resource_id, bundle_version, allowed, reason, decision_json, metadata_json) VALUES(:id, :kind, :timestamp, :request_id, :tenant_id, :subject_id, :action, :resource_id, :bundle_version, :allowed, :reason, :decision_json, :metadata_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":             entry.ID,
		"kind":           string(entry.Kind),
		"timestamp":      entry.Timestamp,
		"request_id":     entry.RequestID,
		"tenant_id":      entry.TenantID,
		"subject_id":     entry.SubjectID,
		"action":         string(entry.Action),
		"resource_id":    entry.ResourceID,
		"bundle_version": entry.BundleVersion,
		"allowed":        allowed,
		"reason":         reason,
		"decision_json":  string(decB),
		"metadata_json":  string(metaB),
	})
	return err
}

func (s *SQLAuditSink) Query(ctx context.Context, filter pdp.AuditFilter) ([]*pdp.AuditEntry, error) {
	q := `SELECT id, kind, timestamp, request_id, tenant_id, subject_id, action, resource_id, bundle_version, decision_json, metadata_json FROM decision_log WHERE 1=1`
	params := map[string]any{}
	if filter.Kind != "" {
		q += " AND kind = :kind"
		params["kind"] = string(filter.Kind)
	}
	if filter.SubjectID != "" {
		q += " AND subject_id = :subject_id"
		params["subject_id"] = filter.SubjectID
	}
	if filter.ResourceID != "" {
		q += " AND resource_id = :resource_id"
		params["resource_id"] = filter.ResourceID
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = string(filter.Action)
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*pdp.AuditEntry, 0)
	for r.Next() {
		var id, kind, requestID, tenant, subject, action, resource, bundleVersion, decJSON, metaJSON string
		var timestampRaw interface{}
		if err := r.Scan(&id, &kind, &timestampRaw, &requestID, &tenant, &subject, &action, &resource, &bundleVersion, &decJSON, &metaJSON); err != nil {
			return nil, err
		}
		entry := &pdp.AuditEntry{
			ID:            id,
			Kind:          pdp.AuditKind(kind),
			RequestID:     requestID,
			TenantID:      tenant,
			SubjectID:     subject,
			Action:        pdp.Action(action),
			ResourceID:    resource,
			BundleVersion: bundleVersion,
		}
		switch v := timestampRaw.(type) {
		case time.Time:
			entry.Timestamp = v
		case string:
			if t, err := parseFlexibleTime(v); err == nil {
				entry.Timestamp = t
			}
		case []byte:
			if t, err := parseFlexibleTime(string(v)); err == nil {
				entry.Timestamp = t
			}
		}
		_ = json.Unmarshal([]byte(decJSON), &entry.Decision)
		_ = json.Unmarshal([]byte(metaJSON), &entry.Metadata)
		out = append(out, entry)
	}
	return out, nil
}
