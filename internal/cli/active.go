package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	flagActiveJSON     bool
	flagExtendSeconds  int
	flagTimeoutsRecent bool
)

func init() {
	activeCmd.Flags().BoolVar(&flagActiveJSON, "json", false, "output as JSON")
	activeCmd.Flags().BoolVar(&flagTimeoutsRecent, "recent-timeouts", false, "also list recently fired timeouts")
	rootCmd.AddCommand(activeCmd)

	extendCmd.Flags().IntVarP(&flagExtendSeconds, "seconds", "s", 60, "additional seconds to grant")
	rootCmd.AddCommand(extendCmd)

	rootCmd.AddCommand(cancelCmd)
}

var activeCmd = &cobra.Command{
	Use:   "active",
	Short: "List in-flight executions",
	Long: `List executions currently registered with the timeout coordinator.

Only meaningful inside a serve process; a fresh CLI invocation has no
in-flight executions of its own.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		handles := e.svc.ListActiveExecutions()
		if flagActiveJSON {
			return json.NewEncoder(os.Stdout).Encode(handles)
		}
		if len(handles) == 0 {
			fmt.Println("no active executions")
		}
		for _, h := range handles {
			fmt.Printf("%s  %s@%s  started %s  deadline %s\n",
				h.ExecutionID, h.Principal, h.Server,
				h.StartTime.Format(time.TimeOnly), h.Deadline.Format(time.TimeOnly))
		}

		if flagTimeoutsRecent {
			for _, ev := range e.coord.RecentTimeouts() {
				fmt.Printf("timed out: %s  %s@%s  fired %s\n",
					ev.ExecutionID, ev.Principal, ev.Server, ev.FiredAt.Format(time.TimeOnly))
			}
		}
		return nil
	},
}

var extendCmd = &cobra.Command{
	Use:   "extend <execution-id>",
	Short: "Grant an active execution more time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		if !e.svc.ExtendExecution(args[0], secondsToDuration(flagExtendSeconds)) {
			return fmt.Errorf("execution %s is not active", args[0])
		}
		fmt.Printf("extended %s by %ds\n", args[0], flagExtendSeconds)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <execution-id>",
	Short: "Cooperatively cancel an active execution",
	Long: `Signal an active execution to stop.

Cancellation is cooperative: the execution's context is cancelled and the
database driver is expected to abandon the statement.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		if !e.svc.CancelExecution(args[0]) {
			return fmt.Errorf("execution %s is not active", args[0])
		}
		fmt.Printf("cancelled %s\n", args[0])
		return nil
	},
}
