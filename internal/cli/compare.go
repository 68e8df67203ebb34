package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sqlgate/internal/similarity"
)

var (
	flagSimilarHistory  bool
	flagSimilarMinScore float64
	flagSimilarJSON     bool
)

func init() {
	rootCmd.AddCommand(compareCmd)

	similarCmd.Flags().BoolVar(&flagSimilarHistory, "history", false, "search past statements instead of the whitelist")
	similarCmd.Flags().Float64Var(&flagSimilarMinScore, "min-score", similarity.ThresholdLow, "minimum similarity score")
	similarCmd.Flags().BoolVar(&flagSimilarJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(similarCmd)
}

var compareCmd = &cobra.Command{
	Use:   "compare <statement-a> <statement-b>",
	Short: "Score the similarity of two statements",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		score, label := e.svc.CompareStatements(args[0], args[1])
		fmt.Printf("%.3f (%s)\n", score, label)
		return nil
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar [statement]",
	Short: "Find whitelisted or past statements similar to one",
	Long: `Search the active whitelist (default) or the statement history
(--history) for statements similar to the given one.

Examples:
  sqlgate similar "SELECT id FROM orders WHERE region = 'emea'"
  sqlgate similar --history --min-score 0.75 "DELETE FROM carts"`,
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

		var matches []similarity.Match
		if flagSimilarHistory {
			matches, err = e.svc.FindSimilarHistorical(statement, flagSimilarMinScore)
		} else {
			matches, err = e.svc.FindSimilarWhitelisted(statement, flagSimilarMinScore)
		}
		if err != nil {
			return err
		}

		if flagSimilarJSON {
			return json.NewEncoder(os.Stdout).Encode(matches)
		}
		if len(matches) == 0 {
			fmt.Println("no similar statements")
			return nil
		}
		for _, m := range matches {
			fmt.Printf("%.3f  %-6s  %s\n  %s\n", m.Score, m.Label, m.CandidateID, m.Text)
		}
		return nil
	},
}
