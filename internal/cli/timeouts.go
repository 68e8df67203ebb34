package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"sqlgate/internal/store"
)

var (
	flagTimeoutScope   string
	flagTimeoutSeconds int
)

func init() {
	timeoutSetCmd.Flags().StringVar(&flagTimeoutScope, "scope", "", "override scope: principal, server or role (required)")
	timeoutSetCmd.Flags().IntVar(&flagTimeoutSeconds, "seconds", 0, "timeout in seconds (required)")
	timeoutCmd.AddCommand(timeoutSetCmd)

	timeoutDeleteCmd.Flags().StringVar(&flagTimeoutScope, "scope", "", "override scope: principal, server or role (required)")
	timeoutCmd.AddCommand(timeoutDeleteCmd)

	timeoutCmd.AddCommand(timeoutListCmd)
	rootCmd.AddCommand(timeoutCmd)
}

var timeoutCmd = &cobra.Command{
	Use:   "timeout",
	Short: "Manage execution timeout overrides",
	Long: `Manage persisted execution timeout overrides.

Overrides resolve in precedence order: principal, then server, then role,
then the configured fallback.`,
}

var timeoutSetCmd = &cobra.Command{
	Use:   "set <subject>",
	Short: "Set a timeout override",
	Long: `Set the execution timeout for one principal, server or role.

Examples:
  sqlgate timeout set prod --scope server --seconds 30
  sqlgate timeout set alice --scope principal --seconds 120`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openEnv()
		if err != nil {
			return err
		}
		defer db.Close()

		o := &store.TimeoutOverride{
			Scope:   store.OverrideScope(flagTimeoutScope),
			Subject: args[0],
			Seconds: flagTimeoutSeconds,
		}
		if err := db.SetTimeoutOverride(o); err != nil {
			return err
		}
		fmt.Printf("%s %s: %ds\n", o.Scope, o.Subject, o.Seconds)
		return nil
	},
}

var timeoutListCmd = &cobra.Command{
	Use:   "list",
	Short: "List timeout overrides",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openEnv()
		if err != nil {
			return err
		}
		defer db.Close()

		overrides, err := db.ListTimeoutOverrides()
		if err != nil {
			return err
		}
		for _, o := range overrides {
			fmt.Printf("%-9s  %-20s  %ds\n", o.Scope, o.Subject, o.Seconds)
		}
		fmt.Printf("fallback: %ds\n", cfg.Timeouts.Fallback)
		return nil
	},
}

var timeoutDeleteCmd = &cobra.Command{
	Use:   "delete <subject>",
	Short: "Delete a timeout override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openEnv()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteTimeoutOverride(store.OverrideScope(flagTimeoutScope), args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s override for %s\n", flagTimeoutScope, args[0])
		return nil
	},
}
