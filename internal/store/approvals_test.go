package store

import (
	"errors"
	"testing"

	"sqlgate/internal/analyzer"
)

func makeApproval(t *testing.T, db *DB) *PendingApproval {
	t.Helper()
	a := &PendingApproval{
		Requester:     "alice",
		Role:          "analyst",
		StatementText: "DELETE FROM orders WHERE id = ?",
		Fingerprint:   "fp-delete-orders",
		TargetServer:  "prod",
		RiskLevel:     analyzer.RiskMedium,
		RiskReasons:   nil,
	}
	if err := db.CreatePendingApproval(a); err != nil {
		t.Fatalf("create approval failed: %v", err)
	}
	return a
}

func TestPendingApprovalCRUD(t *testing.T) {
	db := testDB(t)

	a := makeApproval(t, db)
	if a.ID == "" {
		t.Fatal("create did not assign an ID")
	}
	if a.Status != ApprovalPending {
		t.Errorf("new approval status = %s, want pending", a.Status)
	}

	got, err := db.GetPendingApproval(a.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Requester != "alice" || got.TargetServer != "prod" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.RiskLevel != analyzer.RiskMedium {
		t.Errorf("risk level = %s, want medium", got.RiskLevel)
	}

	open, err := db.FindOpenApproval("fp-delete-orders", "alice", "prod")
	if err != nil {
		t.Fatalf("find open failed: %v", err)
	}
	if open.ID != a.ID {
		t.Errorf("find open returned %s, want %s", open.ID, a.ID)
	}

	listed, err := db.ListOpenApprovals()
	if err != nil {
		t.Fatalf("list open failed: %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("expected 1 open approval, got %d", len(listed))
	}
}

func TestDuplicatePendingCoalesced(t *testing.T) {
	db := testDB(t)

	makeApproval(t, db)

	dup := &PendingApproval{
		Requester:     "alice",
		Role:          "analyst",
		StatementText: "DELETE FROM orders WHERE id = ?",
		Fingerprint:   "fp-delete-orders",
		TargetServer:  "prod",
		RiskLevel:     analyzer.RiskMedium,
	}
	if err := db.CreatePendingApproval(dup); !errors.Is(err, ErrDuplicatePending) {
		t.Fatalf("expected ErrDuplicatePending, got %v", err)
	}

	// Different server is a distinct approval.
	other := &PendingApproval{
		Requester:     "alice",
		Role:          "analyst",
		StatementText: "DELETE FROM orders WHERE id = ?",
		Fingerprint:   "fp-delete-orders",
		TargetServer:  "staging",
		RiskLevel:     analyzer.RiskMedium,
	}
	if err := db.CreatePendingApproval(other); err != nil {
		t.Fatalf("create for other server failed: %v", err)
	}
}

func TestResolveApproval(t *testing.T) {
	db := testDB(t)

	a := makeApproval(t, db)
	if err := db.ResolveApproval(a.ID, ApprovalApproved); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	got, err := db.GetPendingApproval(a.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != ApprovalApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	if got.ResolvedAt == nil {
		t.Error("resolved_at should be set")
	}

	// Once resolved, the same fingerprint can be submitted again.
	again := &PendingApproval{
		Requester:     a.Requester,
		Role:          a.Role,
		StatementText: a.StatementText,
		Fingerprint:   a.Fingerprint,
		TargetServer:  a.TargetServer,
		RiskLevel:     a.RiskLevel,
	}
	if err := db.CreatePendingApproval(again); err != nil {
		t.Fatalf("create after resolve failed: %v", err)
	}

	// Resolving a terminal approval is rejected without mutation.
	if err := db.ResolveApproval(a.ID, ApprovalRejected); !errors.Is(err, ErrApprovalNotPending) {
		t.Errorf("expected ErrApprovalNotPending, got %v", err)
	}

	// Resolving to a non-terminal status is rejected outright.
	if err := db.ResolveApproval(again.ID, ApprovalPending); !errors.Is(err, ErrApprovalNotPending) {
		t.Errorf("expected ErrApprovalNotPending for non-terminal target, got %v", err)
	}
}

func TestGetPendingApprovalNotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetPendingApproval("missing"); !errors.Is(err, ErrApprovalNotFound) {
		t.Errorf("expected ErrApprovalNotFound, got %v", err)
	}
	if _, err := db.FindOpenApproval("fp", "who", "where"); !errors.Is(err, ErrApprovalNotFound) {
		t.Errorf("expected ErrApprovalNotFound from FindOpenApproval, got %v", err)
	}
}
