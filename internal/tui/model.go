package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"sqlgate/internal/analyzer"
	"sqlgate/internal/store"
)

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Approve key.Binding
	Reject  key.Binding
	Details key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Approve: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "approve")),
	Reject:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reject")),
	Details: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "details")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	riskHighStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	riskMedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	riskLowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	statusStyle   = lipgloss.NewStyle().Faint(true).Padding(0, 1)
	detailStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// model is the dashboard Bubble Tea model.
type model struct {
	opts Options

	approvals   []*store.PendingApproval
	cursor      int
	showDetails bool
	status      string
	loading     bool

	spin   spinner.Model
	width  int
	height int
}

func newModel(opts Options) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return model{
		opts:    opts,
		spin:    sp,
		loading: true,
	}
}

// approvalsMsg carries a refreshed approval list.
type approvalsMsg struct {
	approvals []*store.PendingApproval
	err       error
}

// decisionMsg reports the outcome of an approve/reject keypress.
type decisionMsg struct {
	message string
	err     error
}

// tickMsg drives the periodic refresh.
type tickMsg time.Time

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.loadApprovals(), m.tick())
}

func (m model) tick() tea.Cmd {
	return tea.Tick(time.Duration(m.opts.RefreshInterval)*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) loadApprovals() tea.Cmd {
	db := m.opts.Store
	return func() tea.Msg {
		approvals, err := db.ListOpenApprovals()
		return approvalsMsg{approvals: approvals, err: err}
	}
}

func (m model) decide(approvalID string, approved bool) tea.Cmd {
	svc := m.opts.Service
	approver := m.opts.Approver
	return func() tea.Msg {
		_, msg, err := svc.AdvanceWorkflow(approvalID, approved, approver, "")
		return decisionMsg{message: msg, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.approvals)-1 {
				m.cursor++
			}
		case key.Matches(msg, keys.Details):
			m.showDetails = !m.showDetails
		case key.Matches(msg, keys.Approve):
			if a := m.selected(); a != nil {
				m.status = "approving " + shortID(a.ID)
				return m, m.decide(a.ID, true)
			}
		case key.Matches(msg, keys.Reject):
			if a := m.selected(); a != nil {
				m.status = "rejecting " + shortID(a.ID)
				return m, m.decide(a.ID, false)
			}
		}
		return m, nil

	case approvalsMsg:
		m.loading = false
		if msg.err != nil {
			m.status = "refresh failed: " + msg.err.Error()
			return m, nil
		}
		m.approvals = msg.approvals
		if m.cursor >= len(m.approvals) && m.cursor > 0 {
			m.cursor = len(m.approvals) - 1
		}
		return m, nil

	case decisionMsg:
		if msg.err != nil {
			m.status = "decision failed: " + msg.err.Error()
		} else {
			m.status = msg.message
		}
		return m, m.loadApprovals()

	case tickMsg:
		return m, tea.Batch(m.loadApprovals(), m.tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) selected() *store.PendingApproval {
	if m.cursor < 0 || m.cursor >= len(m.approvals) {
		return nil
	}
	return m.approvals[m.cursor]
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("sqlgate pending approvals"))
	b.WriteString("\n\n")

	if m.loading {
		b.WriteString(m.spin.View() + " loading approvals\n")
		return b.String()
	}

	if len(m.approvals) == 0 {
		b.WriteString("  nothing pending\n")
	}

	for i, a := range m.approvals {
		line := fmt.Sprintf("%s  %s  %s@%s  %s",
			shortID(a.ID),
			renderRisk(a.RiskLevel),
			a.Requester, a.TargetServer,
			truncate(a.StatementText, m.statementWidth()))
		if i == m.cursor {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}

	if m.showDetails {
		if a := m.selected(); a != nil {
			b.WriteString("\n" + detailStyle.Render(m.detailView(a)) + "\n")
		}
	}

	if m.status != "" {
		b.WriteString("\n" + statusStyle.Render(m.status))
	}
	b.WriteString("\n" + statusStyle.Render("a approve · r reject · enter details · q quit"))
	return b.String()
}

func (m model) detailView(a *store.PendingApproval) string {
	var b strings.Builder
	fmt.Fprintf(&b, "approval  %s\n", a.ID)
	fmt.Fprintf(&b, "requester %s (%s)\n", a.Requester, a.Role)
	fmt.Fprintf(&b, "server    %s\n", a.TargetServer)
	fmt.Fprintf(&b, "submitted %s\n", a.CreatedAt.Format(time.RFC822))
	fmt.Fprintf(&b, "risk      %s\n", a.RiskLevel)
	for _, r := range a.RiskReasons {
		fmt.Fprintf(&b, "  - %s\n", r)
	}
	b.WriteString(a.StatementText)
	return b.String()
}

func (m model) statementWidth() int {
	w := m.width - 40
	if w < 20 {
		w = 20
	}
	return w
}

func renderRisk(level analyzer.RiskLevel) string {
	switch level {
	case analyzer.RiskHigh:
		return riskHighStyle.Render("high")
	case analyzer.RiskMedium:
		return riskMedStyle.Render("med ")
	default:
		return riskLowStyle.Render("low ")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
