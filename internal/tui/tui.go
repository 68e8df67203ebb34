// Package tui implements the interactive approval dashboard.
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"sqlgate/internal/gateway"
	"sqlgate/internal/store"
)

// Options configures the dashboard.
type Options struct {
	// Service advances workflows on approve/reject keypresses.
	Service *gateway.Service
	// Store lists pending approvals.
	Store *store.DB
	// Approver is the identity recorded on step decisions.
	Approver string
	// RefreshInterval is the list refresh period in seconds (default 5).
	RefreshInterval int
}

// Run starts the dashboard and blocks until the user quits.
func Run(opts Options) error {
	if opts.Service == nil || opts.Store == nil {
		return fmt.Errorf("dashboard requires a service and a store")
	}
	if opts.Approver == "" {
		return fmt.Errorf("dashboard requires an approver identity")
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 5
	}

	p := tea.NewProgram(newModel(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
