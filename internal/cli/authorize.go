package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sqlgate/internal/store"
)

var (
	flagAuthPrincipal string
	flagAuthRole      string
	flagAuthServer    string
	flagAuthJSON      bool
)

func init() {
	authorizeCmd.Flags().StringVarP(&flagAuthPrincipal, "principal", "p", "", "submitting principal (required)")
	authorizeCmd.Flags().StringVarP(&flagAuthRole, "role", "r", "", "principal's role (required)")
	authorizeCmd.Flags().StringVarP(&flagAuthServer, "server", "s", "", "target server (required)")
	authorizeCmd.Flags().BoolVar(&flagAuthJSON, "json", false, "output the decision as JSON")

	rootCmd.AddCommand(authorizeCmd)
}

var authorizeCmd = &cobra.Command{
	Use:   "authorize [statement]",
	Short: "Authorize a SQL statement through the governance pipeline",
	Long: `Run one statement through the full authorization pipeline.

The statement is read from the argument, or from stdin when omitted.

Outcomes:
  execute   The statement was cleared and ran; results are printed.
  deferred  A pending approval was created; its ID is printed.
  rejected  The statement was refused; the reason is printed.

Examples:
  sqlgate authorize "SELECT id FROM orders LIMIT 10" -p alice -r analyst -s prod
  cat query.sql | sqlgate authorize -p alice -r analyst -s staging`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthorize,
}

func runAuthorize(cmd *cobra.Command, args []string) error {
	if flagAuthPrincipal == "" || flagAuthRole == "" || flagAuthServer == "" {
		return fmt.Errorf("--principal, --role and --server are required")
	}

	statement, err := statementInput(args)
	if err != nil {
		return err
	}

	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	dec, err := e.svc.Authorize(context.Background(), statement, flagAuthPrincipal, flagAuthRole, flagAuthServer)
	if err != nil {
		return err
	}

	if flagAuthJSON {
		return json.NewEncoder(os.Stdout).Encode(dec)
	}

	switch dec.Kind {
	case store.DecisionExecute:
		fmt.Printf("execute (risk: %s)\n", dec.RiskLevel)
		if dec.WhitelistID != "" {
			fmt.Printf("  whitelist entry: %s\n", dec.WhitelistID)
		}
		if rs := dec.Result; rs != nil {
			if len(rs.Columns) > 0 {
				fmt.Println("  " + strings.Join(rs.Columns, "\t"))
			}
			for _, row := range rs.Rows {
				cells := make([]string, len(row))
				for i, v := range row {
					cells[i] = fmt.Sprint(v)
				}
				fmt.Println("  " + strings.Join(cells, "\t"))
			}
			fmt.Printf("  (%d rows affected)\n", rs.RowsAffected)
		}
	case store.DecisionDeferred:
		fmt.Printf("deferred (risk: %s)\n", dec.RiskLevel)
		fmt.Printf("  pending approval: %s\n", dec.PendingApprovalID)
		for _, r := range dec.RiskReasons {
			fmt.Printf("  risk: %s\n", r)
		}
	case store.DecisionRejected:
		fmt.Printf("rejected: %s\n", dec.Reason)
	}
	return nil
}

func statementInput(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading statement from stdin: %w", err)
	}
	statement := strings.TrimSpace(string(data))
	if statement == "" {
		return "", fmt.Errorf("no statement given")
	}
	return statement, nil
}
