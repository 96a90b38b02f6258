package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nivantalabs/lessond/internal/lesson"
	"github.com/nivantalabs/lessond/internal/retrieval"
)

var (
	relProjectType string
	relTech        []string
	relPhase       string
	relLimit       int
	relStyle       string
)

func init() {
	rootCmd.AddCommand(relevantCmd)

	relevantCmd.Flags().StringVar(&relProjectType, "project-type", "", "project type to match (\"saas\", \"cli\", ...)")
	relevantCmd.Flags().StringSliceVar(&relTech, "tech", nil, "tech stack entries to match")
	relevantCmd.Flags().StringVar(&relPhase, "phase", "", "project phase (discovery, planning, roadmap, implementation, deployment)")
	relevantCmd.Flags().IntVar(&relLimit, "limit", retrieval.DefaultLimit, "maximum number of lessons")
	relevantCmd.Flags().StringVar(&relStyle, "style", retrieval.FormatMarkdown, "output style: markdown, gotchas or patterns")
}

var relevantCmd = &cobra.Command{
	Use:   "relevant",
	Short: "Retrieve lessons relevant to a project context",
	Long: `Retrieve lessons relevant to a project context, ranked by a blend of
semantic similarity, metadata overlap and confidence.

Examples:
  # Lessons for a SaaS project on Supabase and Next.js
  lessond relevant --project-type saas --tech supabase,nextjs

  # Only lessons useful during planning
  lessond relevant --project-type saas --phase planning

  # Machine-readable output
  lessond relevant --project-type cli --json`,
	RunE: runRelevant,
}

func runRelevant(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if !cmd.Flags().Changed("limit") {
		relLimit = a.cfg.Retrieval.Limit
	}

	lessons := a.bridge.GetRelevantLessons(cmd.Context(), retrieval.Query{
		ProjectType: relProjectType,
		TechStacks:  relTech,
		Phase:       lesson.Phase(relPhase),
		Limit:       relLimit,
	})

	if outputJSON {
		return printJSON(cmd, lessons)
	}
	if len(lessons) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No relevant lessons found.")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), retrieval.FormatForInjection(lessons, relStyle))
	return nil
}

// printJSON writes v as indented JSON to the command's stdout.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
