package timeout

import (
	"errors"
	"testing"
	"time"
)

func testCoordinator(t *testing.T, cfg Config) *Coordinator {
	t.Helper()
	c := NewCoordinator(cfg)
	t.Cleanup(c.Close)
	return c
}

func TestResolveTimeoutPrecedence(t *testing.T) {
	c := testCoordinator(t, Config{})
	c.SetRoleOverride("analyst", 60*time.Second)
	c.SetServerOverride("prod", 30*time.Second)
	c.SetPrincipalOverride("alice", 120*time.Second)

	tests := []struct {
		name                    string
		principal, role, server string
		want                    time.Duration
	}{
		{"principal wins over all", "alice", "analyst", "prod", 120 * time.Second},
		{"server wins over role", "bob", "analyst", "prod", 30 * time.Second},
		{"role when no server override", "bob", "analyst", "staging", 60 * time.Second},
		{"fallback when nothing matches", "bob", "intern", "staging", FallbackTimeout},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.ResolveTimeout(tc.principal, tc.role, tc.server); got != tc.want {
				t.Errorf("ResolveTimeout(%s, %s, %s) = %v, want %v", tc.principal, tc.role, tc.server, got, tc.want)
			}
		})
	}
}

func TestRegisterAndUnregister(t *testing.T) {
	c := testCoordinator(t, Config{})

	d, h, err := c.Register("exec-1", "alice", "analyst", "prod")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if d != FallbackTimeout {
		t.Errorf("timeout = %v, want fallback %v", d, FallbackTimeout)
	}
	if got := h.Deadline.Sub(h.StartTime); got != d {
		t.Errorf("deadline - start = %v, want %v", got, d)
	}

	if _, _, err := c.Register("exec-1", "alice", "analyst", "prod"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate register: expected ErrAlreadyRegistered, got %v", err)
	}

	if !c.Unregister("exec-1") {
		t.Error("unregister of active execution should return true")
	}
	// Already gone: a no-op, not an error.
	if c.Unregister("exec-1") {
		t.Error("second unregister should return false")
	}

	select {
	case <-h.Context().Done():
	default:
		t.Error("unregister should release the handle context")
	}
}

func TestTimeoutFiresAndCancelsContext(t *testing.T) {
	c := testCoordinator(t, Config{})
	c.SetPrincipalOverride("alice", 30*time.Millisecond)

	_, h, err := c.Register("exec-1", "alice", "analyst", "prod")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	select {
	case ev := <-c.Events():
		if ev.ExecutionID != "exec-1" || ev.Principal != "alice" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout event never fired")
	}

	select {
	case <-h.Context().Done():
	default:
		t.Error("timeout should cancel the handle context")
	}

	// Timed out already: unregister is a no-op, exactly one winner.
	if c.Unregister("exec-1") {
		t.Error("unregister after timeout should return false")
	}

	recent := c.RecentTimeouts()
	if len(recent) != 1 || recent[0].ExecutionID != "exec-1" {
		t.Errorf("expected one recent timeout, got %+v", recent)
	}
}

func TestUnregisterBeforeDeadlineSuppressesEvent(t *testing.T) {
	c := testCoordinator(t, Config{})
	c.SetPrincipalOverride("alice", 40*time.Millisecond)

	if _, _, err := c.Register("exec-1", "alice", "analyst", "prod"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !c.Unregister("exec-1") {
		t.Fatal("unregister failed")
	}

	select {
	case ev := <-c.Events():
		t.Errorf("unexpected timeout event after unregister: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestExtendReschedules(t *testing.T) {
	c := testCoordinator(t, Config{})
	c.SetPrincipalOverride("alice", 50*time.Millisecond)

	_, h, err := c.Register("exec-1", "alice", "analyst", "prod")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	before := h.Deadline

	if !c.Extend("exec-1", 300*time.Millisecond) {
		t.Fatal("extend failed")
	}

	active := c.ListActive()
	if len(active) != 1 {
		t.Fatalf("expected 1 active execution, got %d", len(active))
	}
	if got := active[0].Deadline.Sub(before); got != 300*time.Millisecond {
		t.Errorf("deadline moved by %v, want 300ms", got)
	}

	// The original deadline passes without firing.
	select {
	case ev := <-c.Events():
		t.Fatalf("timed out before extended deadline: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}

	// The extended deadline still fires.
	select {
	case ev := <-c.Events():
		if ev.ExecutionID != "exec-1" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("extended deadline never fired")
	}

	if c.Extend("exec-1", time.Second) {
		t.Error("extend after timeout should return false")
	}
}

func TestCancelIsCooperative(t *testing.T) {
	c := testCoordinator(t, Config{})

	_, h, err := c.Register("exec-1", "alice", "analyst", "prod")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if !c.Cancel("exec-1") {
		t.Fatal("cancel failed")
	}
	select {
	case <-h.Context().Done():
	default:
		t.Error("cancel should cancel the handle context")
	}
	if c.Cancel("exec-1") {
		t.Error("second cancel should return false")
	}
	if len(c.ListActive()) != 0 {
		t.Error("cancelled execution should leave the active set")
	}
}

func TestListActiveOrdering(t *testing.T) {
	c := testCoordinator(t, Config{})

	for _, id := range []string{"exec-b", "exec-a", "exec-c"} {
		if _, _, err := c.Register(id, "alice", "analyst", "prod"); err != nil {
			t.Fatalf("register %s failed: %v", id, err)
		}
	}

	active := c.ListActive()
	if len(active) != 3 {
		t.Fatalf("expected 3 active, got %d", len(active))
	}
	for i := 1; i < len(active); i++ {
		prev, cur := active[i-1], active[i]
		if cur.StartTime.Before(prev.StartTime) {
			t.Errorf("active list not ordered by start time at %d", i)
		}
	}
}

func TestRegisterAfterClose(t *testing.T) {
	c := NewCoordinator(Config{})
	c.Close()

	if _, _, err := c.Register("exec-1", "alice", "analyst", "prod"); !errors.Is(err, ErrCoordinatorClosed) {
		t.Errorf("expected ErrCoordinatorClosed, got %v", err)
	}
	// Close is idempotent.
	c.Close()
}
