package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"sqlgate/internal/analyzer"
	"sqlgate/internal/store"
)

func testApprovals() []*store.PendingApproval {
	return []*store.PendingApproval{
		{ID: "aaaaaaaa-1111", Requester: "alice", Role: "analyst", TargetServer: "prod",
			StatementText: "DELETE FROM orders WHERE id = 1", RiskLevel: analyzer.RiskHigh},
		{ID: "bbbbbbbb-2222", Requester: "bob", Role: "analyst", TargetServer: "staging",
			StatementText: "SELECT * FROM users", RiskLevel: analyzer.RiskMedium},
	}
}

func loadedModel() model {
	m := newModel(Options{RefreshInterval: 5, Approver: "tester"})
	next, _ := m.Update(approvalsMsg{approvals: testApprovals()})
	return next.(model)
}

func TestApprovalsMsgPopulatesList(t *testing.T) {
	m := loadedModel()
	if m.loading {
		t.Error("model still loading after approvalsMsg")
	}
	if len(m.approvals) != 2 {
		t.Fatalf("approvals = %d, want 2", len(m.approvals))
	}

	view := m.View()
	if !strings.Contains(view, "aaaaaaaa") || !strings.Contains(view, "bbbbbbbb") {
		t.Errorf("view missing approvals:\n%s", view)
	}
	if !strings.Contains(view, "alice@prod") {
		t.Errorf("view missing requester summary:\n%s", view)
	}
}

func TestCursorNavigation(t *testing.T) {
	m := loadedModel()

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(model)
	if m.cursor != 1 {
		t.Errorf("cursor = %d after down, want 1", m.cursor)
	}

	// Does not run past the end.
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(model)
	if m.cursor != 1 {
		t.Errorf("cursor = %d, want 1", m.cursor)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(model)
	if m.cursor != 0 {
		t.Errorf("cursor = %d after up, want 0", m.cursor)
	}
}

func TestCursorClampsWhenListShrinks(t *testing.T) {
	m := loadedModel()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(model)

	next, _ = m.Update(approvalsMsg{approvals: testApprovals()[:1]})
	m = next.(model)
	if m.cursor != 0 {
		t.Errorf("cursor = %d after shrink, want 0", m.cursor)
	}
}

func TestDetailsToggle(t *testing.T) {
	m := loadedModel()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	if !m.showDetails {
		t.Fatal("details not shown after enter")
	}
	if !strings.Contains(m.View(), "alice (analyst)") {
		t.Errorf("detail view missing requester:\n%s", m.View())
	}
}

func TestQuitKey(t *testing.T) {
	m := loadedModel()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestDecisionMsgSetsStatus(t *testing.T) {
	m := loadedModel()

	next, _ := m.Update(decisionMsg{message: "all required steps approved"})
	m = next.(model)
	if m.status != "all required steps approved" {
		t.Errorf("status = %q", m.status)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("SELECT   1", 20); got != "SELECT 1" {
		t.Errorf("truncate = %q", got)
	}
	got := truncate(strings.Repeat("x", 50), 20)
	if len(got) < 19 || !strings.HasSuffix(got, "…") {
		t.Errorf("truncate = %q", got)
	}
}

func TestRunRequiresCollaborators(t *testing.T) {
	if err := Run(Options{}); err == nil {
		t.Fatal("expected error without service and store")
	}
}
