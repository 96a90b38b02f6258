package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rateNotHelpful bool

func init() {
	rootCmd.AddCommand(rateCmd)
	rateCmd.Flags().BoolVar(&rateNotHelpful, "not-helpful", false, "record the lesson as not helpful")
}

var rateCmd = &cobra.Command{
	Use:   "rate <title>",
	Short: "Rate a surfaced lesson",
	Long: `Rate a surfaced lesson. Ratings adjust the lesson's confidence and feed
the effectiveness signal that demotes lessons nobody finds useful.

Examples:
  lessond rate "Use RLS policies from day one"
  lessond rate "Use RLS policies from day one" --not-helpful`,
	Args: cobra.ExactArgs(1),
	RunE: runRate,
}

func runRate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.bridge.RateLesson(cmd.Context(), args[0], !rateNotHelpful); err != nil {
		return fmt.Errorf("failed to rate lesson: %w", err)
	}

	feedback := "helpful"
	if rateNotHelpful {
		feedback = "not helpful"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %q as %s.\n", args[0], feedback)
	return nil
}
