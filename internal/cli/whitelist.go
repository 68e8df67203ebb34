package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagWhitelistAll  bool
	flagWhitelistJSON bool

	flagSuggestRole   string
	flagSuggestServer string
)

func init() {
	whitelistListCmd.Flags().BoolVar(&flagWhitelistAll, "all", false, "include deactivated entries")
	whitelistListCmd.Flags().BoolVar(&flagWhitelistJSON, "json", false, "output as JSON")
	whitelistCmd.AddCommand(whitelistListCmd)
	whitelistCmd.AddCommand(whitelistDeactivateCmd)

	whitelistSuggestCmd.Flags().StringVar(&flagSuggestRole, "role", "", "restrict the suggested entry to this role")
	whitelistSuggestCmd.Flags().StringVar(&flagSuggestServer, "server", "", "restrict the suggested entry to this server")
	whitelistCmd.AddCommand(whitelistSuggestCmd)

	rootCmd.AddCommand(whitelistCmd)
}

var whitelistCmd = &cobra.Command{
	Use:   "whitelist",
	Short: "Inspect and manage the statement whitelist",
}

var whitelistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List whitelist entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openEnv()
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.ListActiveWhitelist()
		if flagWhitelistAll {
			entries, err = db.ListAllWhitelist()
		}
		if err != nil {
			return err
		}

		if flagWhitelistJSON {
			return json.NewEncoder(os.Stdout).Encode(entries)
		}
		if len(entries) == 0 {
			fmt.Println("no whitelist entries")
			return nil
		}
		for _, e := range entries {
			state := "active"
			if !e.Active {
				state = "deactivated"
			}
			scope := restrictionSummary(e.RoleRestrictions, e.ServerRestrictions)
			fmt.Printf("%s  %-11s  %s  by %s\n  %s\n", e.ID, state, scope, e.AddedBy, e.StatementText)
		}
		return nil
	},
}

var whitelistDeactivateCmd = &cobra.Command{
	Use:   "deactivate <entry-id>",
	Short: "Deactivate a whitelist entry",
	Long: `Deactivate a whitelist entry so it no longer matches.

Entries are never deleted; deactivated entries stay visible with --all for
audit purposes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openEnv()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeactivateWhitelistEntry(args[0]); err != nil {
			return err
		}
		fmt.Printf("deactivated %s\n", args[0])
		return nil
	},
}

var whitelistSuggestCmd = &cobra.Command{
	Use:   "suggest [statement]",
	Short: "Propose a whitelist entry for a statement",
	Long: `Build a whitelist entry proposal for a statement, with similar existing
entries and similar past statements as supporting evidence. Nothing is
persisted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statement, err := statementInput(args)
		if err != nil {
			return err
		}

		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		sug, err := e.svc.SuggestWhitelistEntry(statement, flagSuggestRole, flagSuggestServer)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(sug)
	},
}

func restrictionSummary(roles, servers []string) string {
	parts := []string{}
	if len(roles) > 0 {
		parts = append(parts, "roles="+strings.Join(roles, ","))
	}
	if len(servers) > 0 {
		parts = append(parts, "servers="+strings.Join(servers, ","))
	}
	if len(parts) == 0 {
		return "unrestricted"
	}
	return strings.Join(parts, " ")
}
