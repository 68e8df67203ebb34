package testutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sqlgate/internal/store"
)

func TestTempDBIsMigrated(t *testing.T) {
	db := TempDB(t)

	entry := &store.WhitelistEntry{
		StatementText: "SELECT id FROM accounts WHERE id = ?",
		Fingerprint:   "select id from accounts where id = ?",
		AddedBy:       "tester",
	}
	if err := db.CreateWhitelistEntry(entry); err != nil {
		t.Fatalf("CreateWhitelistEntry: %v", err)
	}
	got, err := db.FindWhitelistByFingerprint(entry.Fingerprint)
	if err != nil {
		t.Fatalf("FindWhitelistByFingerprint: %v", err)
	}
	if len(got) != 1 || got[0].ID != entry.ID {
		t.Errorf("lookup returned %d entries", len(got))
	}
}

func TestTempDBAtPathCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.db")
	TempDBAtPath(t, path)

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}

func TestRunWithCancelRespectingFunction(t *testing.T) {
	fn := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	result := RunWithCancel(fn, 20*time.Millisecond, time.Second)
	if !result.Completed {
		t.Error("function should have returned")
	}
	if !result.WasCancelled {
		t.Error("function should report cancellation")
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", result.Err)
	}
}

func TestRunWithCancelIgnoringFunction(t *testing.T) {
	fn := func(ctx context.Context) error {
		time.Sleep(2 * time.Second)
		return nil
	}

	result := RunWithCancel(fn, 20*time.Millisecond, 150*time.Millisecond)
	if result.Completed {
		t.Error("function ignores its context, should not complete in time")
	}
	if result.WasCancelled {
		t.Error("incomplete run must not report cancellation")
	}
}

func TestRunWithCancelFastFunction(t *testing.T) {
	result := RunWithCancel(func(ctx context.Context) error { return nil },
		50*time.Millisecond, time.Second)
	if !result.Completed || result.WasCancelled {
		t.Errorf("completed=%v cancelled=%v, want completed and not cancelled",
			result.Completed, result.WasCancelled)
	}
}

func TestWaitForCondition(t *testing.T) {
	var flips int
	ok := WaitForCondition(func() bool {
		flips++
		return flips >= 3
	}, time.Millisecond, time.Second)
	if !ok {
		t.Error("condition never reported true")
	}

	if WaitForCondition(func() bool { return false }, 5*time.Millisecond, 30*time.Millisecond) {
		t.Error("unsatisfiable condition reported true")
	}
}
