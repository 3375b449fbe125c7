package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planforge/planforge/internal/exitcode"
	"github.com/planforge/planforge/internal/intake"
	"github.com/planforge/planforge/internal/scope"
)

var (
	assessSpecFlag string
	assessJSONFlag bool
)

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Assess the execution scope of a specification",
	Long: `Parses the specification and recommends an execution scope:
single-agent, multi-agent, or decomposition-required. A
decomposition-required recommendation exits with code 2.`,
	RunE: runAssess,
}

func runAssess(cmd *cobra.Command, args []string) error {
	doc, err := intake.ParseFile(assessSpecFlag)
	if err != nil {
		return fmt.Errorf("parsing specification: %w", err)
	}

	assessment := scope.NewAssessor().Assess(cmd.Context(), doc)

	if assessJSONFlag {
		data, err := assessment.ToJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Recommendation: %s (confidence: %s)\n",
			assessment.Recommendation, assessment.Confidence)
		fmt.Fprintln(cmd.OutOrStdout(), assessment.Explanation)
		if assessment.FastPathEligible {
			fmt.Fprintln(cmd.OutOrStdout(), "Fast path eligible: single issue, no decomposition needed")
		}
	}

	if assessment.Recommendation == scope.DecompositionRequired {
		return fmt.Errorf("%w: specification is too broad for direct planning", exitcode.ErrNeedsAlignment)
	}
	return nil
}

func init() {
	assessCmd.Flags().StringVar(&assessSpecFlag, "spec", "", "specification file (required)")
	assessCmd.MarkFlagRequired("spec")
	assessCmd.Flags().BoolVar(&assessJSONFlag, "json", false, "output JSON")
	rootCmd.AddCommand(assessCmd)
}
