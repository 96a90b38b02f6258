package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nivantalabs/lessond/internal/retrieval"
)

var searchLimit int

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVar(&searchLimit, "limit", retrieval.DefaultSearchLimit, "maximum number of matches")
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search lessons by free text",
	Long: `Search lessons by free text. Uses semantic similarity when an embedding
provider and remote store are configured, and keyword matching over the
local corpus otherwise.

Examples:
  lessond search "database connection pooling"
  lessond search "flaky integration tests" --limit 5`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	matches := a.bridge.SemanticSearch(cmd.Context(), args[0], searchLimit)

	if outputJSON {
		return printJSON(cmd, matches)
	}
	if len(matches) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No matching lessons found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tCATEGORY\tTITLE")
	for _, m := range matches {
		fmt.Fprintf(w, "%.2f\t%s\t%s\n", m.Similarity, m.Lesson.Category, m.Lesson.Title)
	}
	return w.Flush()
}
