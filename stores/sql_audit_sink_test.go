package stores

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/pdp"
)

func TestSQLAuditSinkRoundtrip(t *testing.T) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer sqlDB.Close()
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	sink, _ := NewSQLAuditSink(db)

	entry := &pdp.AuditEntry{
		ID:            "evt-1",
		Kind:          pdp.AuditDecision,
		Timestamp:     time.Now(),
		RequestID:     "req-1",
		TenantID:      "tenant-1",
		SubjectID:     "user-x",
		Action:        pdp.Action("deal.read"),
		ResourceID:    "deal-1",
		BundleVersion: "2026.1",
		Decision: &pdp.Decision{
			Allow:         false,
			Reason:        pdp.ReasonClearance,
			BundleVersion: "2026.1",
			Timestamp:     time.Now(),
		},
	}

	if err := sink.Record(context.Background(), entry); err != nil {
		t.Fatalf("record: %v", err)
	}

	logs, err := sink.Query(context.Background(), pdp.AuditFilter{SubjectID: "user-x", Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(logs))
	}
	got := logs[0]
	if got.BundleVersion != "2026.1" {
		t.Fatalf("expected bundle version 2026.1, got %s", got.BundleVersion)
	}
	if got.Decision == nil || got.Decision.Reason != pdp.ReasonClearance {
		t.Fatalf("decision did not survive roundtrip: %+v", got.Decision)
	}
}

func TestSQLAuditSinkFiltersByKind(t *testing.T) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer sqlDB.Close()
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sink, _ := NewSQLAuditSink(db)

	entries := []*pdp.AuditEntry{
		{ID: "evt-1", Kind: pdp.AuditDecision, Timestamp: time.Now(), SubjectID: "u1"},
		{ID: "evt-2", Kind: pdp.AuditBundleSwap, Timestamp: time.Now(), BundleVersion: "2026.2"},
	}
	for _, e := range entries {
		if err := sink.Record(context.Background(), e); err != nil {
			t.Fatalf("record %s: %v", e.ID, err)
		}
	}

	swaps, err := sink.Query(context.Background(), pdp.AuditFilter{Kind: pdp.AuditBundleSwap})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(swaps) != 1 || swaps[0].ID != "evt-2" {
		t.Fatalf("expected only the bundle swap entry, got %d", len(swaps))
	}
}
