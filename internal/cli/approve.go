package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagApproveApprover string
	flagApproveComment  string
	flagApprovePromote  bool

	flagRejectApprover string
	flagRejectComment  string
)

func init() {
	approveCmd.Flags().StringVarP(&flagApproveApprover, "approver", "a", "", "approver identity (required)")
	approveCmd.Flags().StringVarP(&flagApproveComment, "comment", "m", "", "optional comment")
	approveCmd.Flags().BoolVar(&flagApprovePromote, "promote", false, "add the statement to the whitelist once fully approved")
	rootCmd.AddCommand(approveCmd)

	rejectCmd.Flags().StringVarP(&flagRejectApprover, "approver", "a", "", "approver identity (required)")
	rejectCmd.Flags().StringVarP(&flagRejectComment, "comment", "m", "", "optional comment")
	rootCmd.AddCommand(rejectCmd)
}

var approveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve the current step of a pending approval",
	Long: `Record an approval on the open workflow instance for a pending approval.

Each call decides the current required step. When the last required step is
approved, the approval resolves; with --promote the statement is then added
to the whitelist restricted to the requester's role and server.

Examples:
  sqlgate approve 5f0c... -a dba-dave
  sqlgate approve 5f0c... -a dba-dave -m "narrow WHERE, fine" --promote`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecision(args[0], true, flagApproveApprover, flagApproveComment, flagApprovePromote)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <approval-id>",
	Short: "Reject a pending approval",
	Long: `Veto the open workflow instance for a pending approval.

A single rejection resolves the whole approval as rejected regardless of
earlier step approvals.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecision(args[0], false, flagRejectApprover, flagRejectComment, false)
	},
}

func runDecision(approvalID string, approved bool, approver, comment string, promote bool) error {
	if approver == "" {
		return fmt.Errorf("--approver is required")
	}

	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	done, msg, err := e.svc.AdvanceWorkflow(approvalID, approved, approver, comment)
	if err != nil {
		return err
	}
	fmt.Println(msg)

	if done && approved && promote {
		entry, err := e.svc.PromoteApproval(approvalID, approver)
		if err != nil {
			return fmt.Errorf("promoting to whitelist: %w", err)
		}
		fmt.Printf("whitelisted as %s\n", entry.ID)
	}
	return nil
}

var flagPendingJSON bool

func init() {
	pendingCmd.Flags().BoolVar(&flagPendingJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List open pending approvals",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openEnv()
		if err != nil {
			return err
		}
		defer db.Close()

		approvals, err := db.ListOpenApprovals()
		if err != nil {
			return err
		}

		if flagPendingJSON {
			return json.NewEncoder(os.Stdout).Encode(approvals)
		}
		if len(approvals) == 0 {
			fmt.Println("no pending approvals")
			return nil
		}
		for _, a := range approvals {
			fmt.Printf("%s  %-8s  %s@%s  %s\n  %s\n",
				a.ID, a.RiskLevel, a.Requester, a.TargetServer,
				a.CreatedAt.Format("2006-01-02 15:04"), a.StatementText)
		}
		return nil
	},
}
