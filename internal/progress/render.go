package progress

import (
	"fmt"
	"strings"

	"github.com/planforge/planforge/internal/dispatch"
)

var statusIcons = map[dispatch.Status]string{
	dispatch.StatusQueued:    "○",
	dispatch.StatusRunning:   "●",
	dispatch.StatusCompleted: "✓",
	dispatch.StatusFailed:    "✗",
	dispatch.StatusBlocked:   "⊘",
}

// RenderStatus formats a progress report for terminal output.
func RenderStatus(report *Report) string {
	lines := []string{
		strings.Repeat("=", 60),
		"EXECUTION STATUS",
		strings.Repeat("=", 60),
		fmt.Sprintf("Total: %d | Completed: %d | Running: %d | Queued: %d | Failed: %d",
			report.TotalTasks, report.Completed, report.Running, report.Queued, report.Failed),
		"",
		"TASKS:",
	}

	for _, ts := range report.TaskStatuses {
		icon, ok := statusIcons[ts.Status]
		if !ok {
			icon = "?"
		}
		lines = append(lines, fmt.Sprintf("  %s [%-10s] %s", icon, ts.Status, ts.Title))
		if ts.ErrorMessage != "" {
			lines = append(lines, "    Error: "+ts.ErrorMessage)
		}
	}
	return strings.Join(lines, "\n")
}

// RenderLogs formats recent log entries for terminal output.
func RenderLogs(entries []LogEntry, limit int) string {
	lines := []string{
		strings.Repeat("=", 60),
		fmt.Sprintf("EXECUTION LOGS (last %d)", limit),
		strings.Repeat("=", 60),
	}
	for _, entry := range entries {
		taskPrefix := ""
		if entry.TaskID != "" {
			taskPrefix = "[" + entry.TaskID + "] "
		}
		lines = append(lines, fmt.Sprintf("%s %-7s %s%s",
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			strings.ToUpper(string(entry.Level)), taskPrefix, entry.Message))
	}
	return strings.Join(lines, "\n")
}
