// Package cmd wires the CLI subcommands.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	configPathFlag string
	planPathFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "planforge",
	Short: "Specification-to-execution planning pipeline",
	Long: `planforge parses specification documents into a dependency-ordered task
graph, assigns validation strategies, guards against over-decomposition,
recommends parallel workstreams, and drives resumable agent execution.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteContext runs the root command with the given context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", "", "project config file (default .planforge/config.json)")
	rootCmd.PersistentFlags().StringVar(&planPathFlag, "plan", "planforge-plan.json", "plan file")
}
