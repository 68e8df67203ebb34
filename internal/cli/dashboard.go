package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sqlgate/internal/tui"
)

var (
	flagDashApprover string
	flagDashRefresh  int
)

func init() {
	dashboardCmd.Flags().StringVarP(&flagDashApprover, "approver", "a", "", "approver identity for keybindings (required)")
	dashboardCmd.Flags().IntVar(&flagDashRefresh, "refresh-interval", 5, "list refresh interval in seconds")

	rootCmd.AddCommand(dashboardCmd)
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Launch the interactive approval dashboard",
	Long: `Launch the Bubble Tea dashboard for pending approvals.

Key bindings:
  up/down (j/k)  Navigate the approval list
  a              Approve the selected approval's current step
  r              Reject the selected approval
  enter          Toggle statement details
  q              Quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagDashApprover == "" {
			return fmt.Errorf("--approver is required")
		}
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("dashboard requires an interactive terminal")
		}

		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		return tui.Run(tui.Options{
			Service:         e.svc,
			Store:           e.db,
			Approver:        flagDashApprover,
			RefreshInterval: flagDashRefresh,
		})
	},
}
