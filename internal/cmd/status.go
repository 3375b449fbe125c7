package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planforge/planforge/internal/progress"
)

var statusJSONFlag bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show execution progress for the current plan",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
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
	report := tracker.Report()

	if statusJSONFlag {
		data, err := report.ToJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), progress.RenderStatus(report))
	return nil
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSONFlag, "json", false, "output JSON")
	rootCmd.AddCommand(statusCmd)
}
