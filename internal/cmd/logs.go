package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planforge/planforge/internal/progress"
)

var (
	logsTaskFlag  string
	logsLevelFlag string
	logsLimitFlag int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent execution logs",
	RunE:  runLogs,
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tp, err := loadPlan()
	if err != nil {
		return err
	}

	tracker := progress.New(tp, progress.WithStatePath(progressStatePath(cfg)))
	tracker.LoadState()

	entries := tracker.Logs(logsTaskFlag, progress.LogLevel(logsLevelFlag), logsLimitFlag)
	fmt.Fprintln(cmd.OutOrStdout(), progress.RenderLogs(entries, logsLimitFlag))
	return nil
}

func init() {
	logsCmd.Flags().StringVar(&logsTaskFlag, "task", "", "only logs for this task id")
	logsCmd.Flags().StringVar(&logsLevelFlag, "level", "", "only logs at this level (debug, info, warning, error)")
	logsCmd.Flags().IntVar(&logsLimitFlag, "limit", 50, "number of entries to show")
	rootCmd.AddCommand(logsCmd)
}
