package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nivantalabs/lessond/internal/retrieval"
)

var (
	gotchaProjectType string
	gotchaTech        []string
	gotchaLimit       int
)

func init() {
	rootCmd.AddCommand(gotchasCmd)

	gotchasCmd.Flags().StringVar(&gotchaProjectType, "project-type", "", "project type to match")
	gotchasCmd.Flags().StringSliceVar(&gotchaTech, "tech", nil, "tech stack entries to match")
	gotchasCmd.Flags().IntVar(&gotchaLimit, "limit", retrieval.DefaultGotchaLimit, "maximum number of gotchas")
}

var gotchasCmd = &cobra.Command{
	Use:   "gotchas",
	Short: "List known pitfalls for a project context",
	Long: `List known pitfalls for a project context as ready-to-inject warning
lines.

Examples:
  lessond gotchas --project-type saas --tech supabase`,
	RunE: runGotchas,
}

func runGotchas(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	gotchas := a.bridge.GetGotchas(cmd.Context(), retrieval.Query{
		ProjectType: gotchaProjectType,
		TechStacks:  gotchaTech,
	}, gotchaLimit)

	if outputJSON {
		return printJSON(cmd, gotchas)
	}
	if len(gotchas) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No known gotchas.")
		return nil
	}
	for _, g := range gotchas {
		fmt.Fprintln(cmd.OutOrStdout(), g)
	}
	return nil
}
