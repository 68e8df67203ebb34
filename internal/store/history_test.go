package store

import (
	"testing"
	"time"
)

func TestStatementHistory(t *testing.T) {
	db := testDB(t)

	recs := []*HistoryRecord{
		{Principal: "alice", Role: "analyst", TargetServer: "prod", StatementText: "SELECT 1", Fingerprint: "fp1", Decision: DecisionExecute},
		{Principal: "bob", Role: "intern", TargetServer: "prod", StatementText: "DELETE FROM t", Fingerprint: "fp2", Decision: DecisionDeferred, Detail: "pending approval"},
		{Principal: "alice", Role: "analyst", TargetServer: "prod", StatementText: "DROP TABLE t", Fingerprint: "fp3", Decision: DecisionRejected, Detail: "policy denied"},
	}
	for _, rec := range recs {
		if err := db.RecordStatement(rec); err != nil {
			t.Fatalf("record failed: %v", err)
		}
		if rec.ID == 0 {
			t.Error("record did not assign an ID")
		}
	}

	recent, err := db.ListRecentStatements(10)
	if err != nil {
		t.Fatalf("list recent failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recent))
	}
	if recent[0].Fingerprint != "fp3" {
		t.Errorf("expected newest first, got %s", recent[0].Fingerprint)
	}

	byAlice, err := db.ListStatementsByPrincipal("alice", 10)
	if err != nil {
		t.Fatalf("list by principal failed: %v", err)
	}
	if len(byAlice) != 2 {
		t.Errorf("expected 2 records for alice, got %d", len(byAlice))
	}

	limited, err := db.ListRecentStatements(1)
	if err != nil {
		t.Fatalf("limited list failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d records", len(limited))
	}
}

func TestPruneHistory(t *testing.T) {
	db := testDB(t)

	rec := &HistoryRecord{Principal: "alice", Role: "analyst", TargetServer: "prod",
		StatementText: "SELECT 1", Fingerprint: "fp1", Decision: DecisionExecute}
	if err := db.RecordStatement(rec); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	// Cutoff in the past removes nothing.
	removed, err := db.PruneHistory(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected 0 removed, got %d", removed)
	}

	// Cutoff in the future removes the row.
	removed, err = db.PruneHistory(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
}

func TestAuditEvents(t *testing.T) {
	db := testDB(t)

	ev := &AuditEvent{
		EventType: "whitelist_deactivated",
		Principal: "dba-jane",
		SubjectID: "entry-1",
		Detail:    "stale statement",
	}
	if err := db.RecordAuditEvent(ev); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	events, err := db.ListAuditEvents(10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventType != "whitelist_deactivated" || events[0].Principal != "dba-jane" {
		t.Errorf("event mismatch: %+v", events[0])
	}
}

func TestTimeoutOverrides(t *testing.T) {
	db := testDB(t)

	overrides := []*TimeoutOverride{
		{Scope: ScopeRole, Subject: "analyst", Seconds: 60},
		{Scope: ScopeServer, Subject: "prod", Seconds: 30},
		{Scope: ScopePrincipal, Subject: "alice", Seconds: 120},
	}
	for _, o := range overrides {
		if err := db.SetTimeoutOverride(o); err != nil {
			t.Fatalf("set %s/%s failed: %v", o.Scope, o.Subject, err)
		}
	}

	seconds, ok, err := db.GetTimeoutOverride(ScopeServer, "prod")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || seconds != 30 {
		t.Errorf("got (%d, %v), want (30, true)", seconds, ok)
	}

	// Upsert replaces.
	if err := db.SetTimeoutOverride(&TimeoutOverride{Scope: ScopeServer, Subject: "prod", Seconds: 45}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	seconds, ok, _ = db.GetTimeoutOverride(ScopeServer, "prod")
	if !ok || seconds != 45 {
		t.Errorf("after upsert got (%d, %v), want (45, true)", seconds, ok)
	}

	all, err := db.ListTimeoutOverrides()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 overrides, got %d", len(all))
	}

	if err := db.DeleteTimeoutOverride(ScopeRole, "analyst"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, _ = db.GetTimeoutOverride(ScopeRole, "analyst")
	if ok {
		t.Error("override should be gone after delete")
	}

	if err := db.SetTimeoutOverride(&TimeoutOverride{Scope: "galaxy", Subject: "x", Seconds: 5}); err == nil {
		t.Error("invalid scope should be rejected")
	}
	if err := db.SetTimeoutOverride(&TimeoutOverride{Scope: ScopeRole, Subject: "x", Seconds: 0}); err == nil {
		t.Error("non-positive seconds should be rejected")
	}
}
