package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planforge/planforge/internal/control"
	"github.com/planforge/planforge/internal/exitcode"
)

var (
	controlUserFlag    string
	controlTaskFlag    string
	controlReasonFlag  string
	controlContextFlag string
	controlConfirmFlag bool
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Drive the execution state machine",
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve the plan and start execution",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := controller()
		if err != nil {
			return err
		}
		record := ctl.Approve(controlUserFlag)
		for _, w := range record.ValidationWarnings {
			fmt.Fprintln(cmd.OutOrStdout(), "warning:", w)
		}
		if !record.Approved {
			return fmt.Errorf("plan rejected: validation failed")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Plan approved by %s; execution is %s\n",
			record.ApprovedBy, ctl.State())
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause execution",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := controller()
		if err != nil {
			return err
		}
		if !ctl.Pause(controlUserFlag, controlReasonFlag) {
			return fmt.Errorf("cannot pause in state %s", ctl.State())
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Execution paused")
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume paused execution",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := controller()
		if err != nil {
			return err
		}
		if !ctl.Resume(controlUserFlag) {
			return fmt.Errorf("cannot resume in state %s", ctl.State())
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Execution resumed")
		return nil
	},
}

var skipCmd = &cobra.Command{
	Use:   "skip",
	Short: "Skip a task, unblocking its dependents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := controller()
		if err != nil {
			return err
		}
		ok, warnings := ctl.Skip(controlTaskFlag, controlUserFlag, controlReasonFlag)
		for _, w := range warnings {
			fmt.Fprintln(cmd.OutOrStdout(), "warning:", w)
		}
		if !ok {
			return fmt.Errorf("could not skip task %s", controlTaskFlag)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s skipped\n", controlTaskFlag)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry a failed task, optionally with additional context",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := controller()
		if err != nil {
			return err
		}
		if err := ctl.Retry(controlTaskFlag, controlUserFlag, controlContextFlag); err != nil {
			return err
		}
		state, _ := ctl.TaskState(controlTaskFlag)
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s queued for retry (attempt %d)\n",
			controlTaskFlag, state.AttemptCount)
		return nil
	},
}

var forceCompleteCmd = &cobra.Command{
	Use:   "force-complete",
	Short: "Mark a task completed without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := controller()
		if err != nil {
			return err
		}
		ok, warnings := ctl.ForceComplete(controlTaskFlag, controlUserFlag, controlReasonFlag, controlConfirmFlag)
		for _, w := range warnings {
			fmt.Fprintln(cmd.OutOrStdout(), "warning:", w)
		}
		if !ok {
			return fmt.Errorf("%w: force-complete rejected for task %s", exitcode.ErrAborted, controlTaskFlag)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s force-completed\n", controlTaskFlag)
		return nil
	},
}

func controller() (*control.Controller, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	tp, err := loadPlan()
	if err != nil {
		return nil, err
	}
	return newController(cfg, tp)
}

func init() {
	controlCmd.PersistentFlags().StringVar(&controlUserFlag, "user", "cli", "who is issuing the action")
	controlCmd.PersistentFlags().StringVar(&controlReasonFlag, "reason", "", "reason recorded in the action log")

	for _, c := range []*cobra.Command{skipCmd, retryCmd, forceCompleteCmd} {
		c.Flags().StringVar(&controlTaskFlag, "task", "", "task id (required)")
		c.MarkFlagRequired("task")
	}
	retryCmd.Flags().StringVar(&controlContextFlag, "context", "", "additional context for the retried task")
	forceCompleteCmd.Flags().BoolVar(&controlConfirmFlag, "confirm", false, "explicitly confirm the force-complete")

	controlCmd.AddCommand(approveCmd, pauseCmd, resumeCmd, skipCmd, retryCmd, forceCompleteCmd)
	rootCmd.AddCommand(controlCmd)
}
