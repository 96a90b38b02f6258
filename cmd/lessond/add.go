package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nivantalabs/lessond/internal/lesson"
)

var (
	addCategory       string
	addDescription    string
	addContext        string
	addRecommendation string
	addConfidence     float64
	addProjectTypes   []string
	addTech           []string
	addTags           []string
)

func init() {
	rootCmd.AddCommand(addCmd)

	addCmd.Flags().StringVar(&addCategory, "category", "", "lesson category (required)")
	addCmd.Flags().StringVar(&addDescription, "description", "", "what was observed")
	addCmd.Flags().StringVar(&addContext, "context", "", "when the lesson applies")
	addCmd.Flags().StringVar(&addRecommendation, "recommendation", "", "what to do differently")
	addCmd.Flags().Float64Var(&addConfidence, "confidence", 0.7, "initial confidence (0.1 to 1.0)")
	addCmd.Flags().StringSliceVar(&addProjectTypes, "project-types", nil, "project types the lesson applies to (empty = generic)")
	addCmd.Flags().StringSliceVar(&addTech, "tech", nil, "tech stacks the lesson applies to (empty = generic)")
	addCmd.Flags().StringSliceVar(&addTags, "tags", nil, "free-form tags")
	_ = addCmd.MarkFlagRequired("category")
}

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Capture a new lesson",
	Long: `Capture a new lesson into the corpus. A lesson with the same title
already present is merged: its frequency goes up, its confidence gets a
small boost, and tags are unioned.

Examples:
  lessond add "Use RLS policies from day one" \
    --category architecture \
    --description "Retrofitting row level security took a full sprint" \
    --recommendation "Enable RLS before the first deploy" \
    --project-types saas --tech supabase`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func runAdd(cmd *cobra.Command, args []string) error {
	l, err := lesson.New(args[0], lesson.Category(addCategory))
	if err != nil {
		return err
	}
	l.Description = addDescription
	l.Context = addContext
	l.Recommendation = addRecommendation
	l.Confidence = lesson.ClampConfidence(addConfidence)
	l.ProjectTypes = addProjectTypes
	l.TechStacks = addTech
	l.Tags = addTags

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.bridge.AddLesson(cmd.Context(), l); err != nil {
		return fmt.Errorf("failed to add lesson: %w", err)
	}

	if outputJSON {
		return printJSON(cmd, l)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Captured lesson %q [%s].\n", l.Title, l.Category)
	return nil
}
