package store

import (
	"errors"
	"testing"
)

func TestWhitelistCRUD(t *testing.T) {
	db := testDB(t)

	entry := &WhitelistEntry{
		StatementText:      "SELECT id FROM orders WHERE region = ?",
		Fingerprint:        "fp-orders-select",
		ServerRestrictions: []string{"prod"},
		RoleRestrictions:   []string{"analyst"},
		AddedBy:            "dba-jane",
	}
	if err := db.CreateWhitelistEntry(entry); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("create did not assign an ID")
	}

	got, err := db.GetWhitelistEntry(entry.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.StatementText != entry.StatementText {
		t.Errorf("statement text mismatch: got %q", got.StatementText)
	}
	if !got.Active {
		t.Error("new entry should be active")
	}
	if len(got.ServerRestrictions) != 1 || got.ServerRestrictions[0] != "prod" {
		t.Errorf("server restrictions mismatch: %v", got.ServerRestrictions)
	}

	matches, err := db.FindWhitelistByFingerprint("fp-orders-select")
	if err != nil {
		t.Fatalf("find by fingerprint failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}

func TestWhitelistAppliesTo(t *testing.T) {
	tests := []struct {
		name    string
		entry   WhitelistEntry
		role    string
		server  string
		applies bool
	}{
		{"unrestricted", WhitelistEntry{}, "analyst", "prod", true},
		{"role match", WhitelistEntry{RoleRestrictions: []string{"Analyst"}}, "analyst", "prod", true},
		{"role mismatch", WhitelistEntry{RoleRestrictions: []string{"dba"}}, "analyst", "prod", false},
		{"server match", WhitelistEntry{ServerRestrictions: []string{"prod"}}, "analyst", "prod", true},
		{"server mismatch", WhitelistEntry{ServerRestrictions: []string{"staging"}}, "analyst", "prod", false},
		{"both restricted both match", WhitelistEntry{RoleRestrictions: []string{"analyst"}, ServerRestrictions: []string{"prod"}}, "analyst", "prod", true},
		{"both restricted one mismatch", WhitelistEntry{RoleRestrictions: []string{"analyst"}, ServerRestrictions: []string{"staging"}}, "analyst", "prod", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.entry.AppliesTo(tc.role, tc.server); got != tc.applies {
				t.Errorf("AppliesTo(%q, %q) = %v, want %v", tc.role, tc.server, got, tc.applies)
			}
		})
	}
}

func TestWhitelistDeactivate(t *testing.T) {
	db := testDB(t)

	entry := &WhitelistEntry{
		StatementText: "SELECT 1",
		Fingerprint:   "fp-one",
		AddedBy:       "auto-approval",
	}
	if err := db.CreateWhitelistEntry(entry); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := db.DeactivateWhitelistEntry(entry.ID); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	got, err := db.GetWhitelistEntry(entry.ID)
	if err != nil {
		t.Fatalf("get after deactivate failed: %v", err)
	}
	if got.Active {
		t.Error("entry should be inactive")
	}
	if got.DeactivatedAt == nil {
		t.Error("deactivated_at should be set")
	}

	// Deactivated entries drop out of fingerprint lookups but stay on disk.
	matches, err := db.FindWhitelistByFingerprint("fp-one")
	if err != nil {
		t.Fatalf("find after deactivate failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no active matches, got %d", len(matches))
	}
	all, err := db.ListAllWhitelist()
	if err != nil {
		t.Fatalf("list all failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected entry to remain in full listing, got %d rows", len(all))
	}

	// Second deactivate finds nothing active.
	if err := db.DeactivateWhitelistEntry(entry.ID); !errors.Is(err, ErrWhitelistNotFound) {
		t.Errorf("expected ErrWhitelistNotFound, got %v", err)
	}
}

func TestWhitelistTouch(t *testing.T) {
	db := testDB(t)

	entry := &WhitelistEntry{StatementText: "SELECT 1", Fingerprint: "fp", AddedBy: "x"}
	if err := db.CreateWhitelistEntry(entry); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := db.TouchWhitelistEntry(entry.ID); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	got, err := db.GetWhitelistEntry(entry.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LastMatchedAt == nil {
		t.Error("last_matched_at should be set after touch")
	}
}

func TestGetWhitelistEntryNotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetWhitelistEntry("missing"); !errors.Is(err, ErrWhitelistNotFound) {
		t.Errorf("expected ErrWhitelistNotFound, got %v", err)
	}
}
