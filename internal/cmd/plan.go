package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planforge/planforge/internal/exitcode"
	"github.com/planforge/planforge/internal/guard"
	"github.com/planforge/planforge/internal/intake"
	"github.com/planforge/planforge/internal/parallel"
	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/store"
	"github.com/planforge/planforge/internal/strategy"
)

var (
	specPathFlag string
	planIDFlag   string
	confirmGuard bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Generate and validate task plans",
}

var planGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Parse a specification and generate a task plan",
	RunE:  runPlanGenerate,
}

var planCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate an existing plan",
	RunE:  runPlanCheck,
}

func runPlanGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	doc, err := intake.ParseFile(specPathFlag)
	if err != nil {
		return fmt.Errorf("parsing specification: %w", err)
	}
	for _, w := range doc.Warnings {
		fmt.Fprintln(cmd.OutOrStdout(), "warning:", w)
	}

	tp := plan.NewGenerator(cfg.Dispatch.Model).Generate(doc)
	fmt.Fprintf(cmd.OutOrStdout(), "Generated %d tasks from %d functional requirements\n",
		tp.Len(), len(doc.FunctionalRequirements))

	strategies := strategy.Assign(tp)
	for _, w := range strategies.Warnings {
		fmt.Fprintln(cmd.OutOrStdout(), "warning:", w)
	}

	g := guard.New("")
	g.SetBaseThreshold(cfg.Guard.BaseThreshold)
	g.SetTasksPerFR(cfg.Guard.TasksPerFR)
	check := g.Check(tp, doc)
	for _, w := range check.Warnings {
		fmt.Fprintln(cmd.OutOrStdout(), "warning:", w)
	}
	if check.RequiresConfirmation && !confirmGuard {
		for _, s := range check.Suggestions {
			fmt.Fprintf(cmd.OutOrStdout(), "suggestion: merge %v (%s)\n", s.TaskTitles, s.Reason)
		}
		return fmt.Errorf("%w: plan has %d tasks against a threshold of %d; rerun with --confirm to accept",
			exitcode.ErrAborted, check.TaskCount, check.Threshold)
	}

	// Stream advice draws on the durable conflict ledger when a database
	// is configured.
	ledger := parallel.Ledger(nil)
	if cfg.Paths.DatabasePath != "" {
		db, err := store.Open(cmd.Context(), cfg.Paths.DatabasePath)
		if err != nil {
			return fmt.Errorf("%w: opening store: %v", exitcode.ErrInfra, err)
		}
		defer db.Close()
		ledger = db.Ledger(cmd.Context())
		if planIDFlag != "" {
			if err := db.SavePlan(cmd.Context(), planIDFlag, tp); err != nil {
				return fmt.Errorf("%w: saving plan %s: %v", exitcode.ErrInfra, planIDFlag, err)
			}
		}
	}
	advisor := parallel.NewAdvisor(ledger)
	advisor.SetConflictThreshold(cfg.Parallel.ConflictThreshold)
	advice := advisor.Analyze(tp, branchPattern(cfg))

	fmt.Fprintf(cmd.OutOrStdout(), "Workstreams: %d\n", len(advice.Streams))
	for _, stream := range advice.Streams {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s -> %s (%d tasks)\n",
			stream.StreamID, stream.BranchName, len(stream.TaskIDs))
	}
	for _, mp := range advice.MergeSequence {
		fmt.Fprintf(cmd.OutOrStdout(), "  merge %d: %s into %s (risk: %s)\n",
			mp.MergeOrder, mp.SourceStream, mp.TargetStream, mp.ExpectedConflictRisk)
	}
	for _, w := range advice.Warnings {
		fmt.Fprintln(cmd.OutOrStdout(), "warning:", w)
	}

	if err := writePlan(tp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Plan written to %s\n", planPathFlag)
	return nil
}

func runPlanCheck(cmd *cobra.Command, args []string) error {
	tp, err := loadPlan()
	if err != nil {
		return err
	}

	result := tp.Approve()
	for _, w := range result.Warnings {
		fmt.Fprintln(cmd.OutOrStdout(), "warning:", w)
	}
	for _, e := range result.Errors {
		fmt.Fprintln(cmd.OutOrStdout(), "error:", e)
	}
	if !result.Validated {
		return fmt.Errorf("plan failed validation with %d error(s)", len(result.Errors))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Plan is valid: %d tasks\n", tp.Len())
	return nil
}

func init() {
	planGenerateCmd.Flags().StringVar(&specPathFlag, "spec", "", "specification file (required)")
	planGenerateCmd.MarkFlagRequired("spec")
	planGenerateCmd.Flags().StringVar(&planIDFlag, "plan-id", "", "also save the plan to the database under this id")
	planGenerateCmd.Flags().BoolVar(&confirmGuard, "confirm", false, "accept a plan that exceeds the task-count threshold")

	planCmd.AddCommand(planGenerateCmd, planCheckCmd)
	rootCmd.AddCommand(planCmd)
}
