package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nivantalabs/lessond/internal/lesson"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show local corpus statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	stats := a.bridge.Stats()

	if outputJSON {
		return printJSON(cmd, stats)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Lessons: %d\n", stats.TotalLessons)
	fmt.Fprintf(out, "Average confidence: %.2f\n", stats.AvgConfidence)

	if len(stats.ByCategory) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CATEGORY\tCOUNT")
		for _, c := range lesson.Categories {
			if n := stats.ByCategory[c]; n > 0 {
				fmt.Fprintf(w, "%s\t%d\n", c, n)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(stats.LowConfidenceTitles) > 0 {
		fmt.Fprintln(out, "\nLow confidence:")
		for _, title := range stats.LowConfidenceTitles {
			fmt.Fprintf(out, "  - %s\n", title)
		}
	}
	return nil
}
