package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/planforge/planforge/internal/agent"
	"github.com/planforge/planforge/internal/config"
	"github.com/planforge/planforge/internal/control"
	"github.com/planforge/planforge/internal/dispatch"
	"github.com/planforge/planforge/internal/exitcode"
	"github.com/planforge/planforge/internal/parallel"
	"github.com/planforge/planforge/internal/plan"
)

func loadConfig() (*config.Config, error) {
	projectPath := configPathFlag
	if projectPath == "" {
		projectPath = config.ProjectConfigPath()
	}
	cfg, err := config.Load(config.GlobalConfigPath(), projectPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", exitcode.ErrConfig, err)
	}
	return cfg, nil
}

func loadPlan() (*plan.TaskPlan, error) {
	data, err := os.ReadFile(planPathFlag)
	if err != nil {
		return nil, fmt.Errorf("reading plan file %s: %w", planPathFlag, err)
	}
	tp, err := plan.FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parsing plan file %s: %w", planPathFlag, err)
	}
	return tp, nil
}

func writePlan(tp *plan.TaskPlan) error {
	data, err := tp.ToJSON()
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	if err := os.WriteFile(planPathFlag, data, 0o644); err != nil {
		return fmt.Errorf("writing plan file %s: %w", planPathFlag, err)
	}
	return nil
}

func branchPattern(cfg *config.Config) parallel.BranchPattern {
	switch cfg.Parallel.BranchPattern {
	case "stack":
		return parallel.StackedBranches
	case "single":
		return parallel.SingleBranch
	default:
		return parallel.FeatureBranches
	}
}

func newDispatcher(cfg *config.Config) *dispatch.Dispatcher {
	runner := agent.NewProcessRunner(agent.NewProcessManager())
	runner.SetRedactor(dispatch.RedactSecrets)
	resilient := agent.NewResilientRunner(runner,
		agent.NewBreakerRegistry(slog.Default()), agent.DefaultRetryConfig())

	return dispatch.New(resilient,
		dispatch.WithRuntime(cfg.Dispatch.Runtime),
		dispatch.WithModel(cfg.Dispatch.Model),
		dispatch.WithTimeout(time.Duration(cfg.Dispatch.TimeoutSeconds)*time.Second))
}

// newController restores a controller from saved state when one exists;
// otherwise it starts fresh and queues every plan task. State is loaded
// verbatim so a paused run stays paused until the user resumes it.
func newController(cfg *config.Config, tp *plan.TaskPlan) (*control.Controller, error) {
	dispatcher := newDispatcher(cfg)
	for _, task := range tp.Tasks() {
		dispatcher.QueueTask(task)
	}

	opts := []control.Option{
		control.WithMaxRetries(cfg.Dispatch.MaxRetries),
		control.WithStatePath(cfg.Paths.StatePath),
	}
	if _, err := os.Stat(cfg.Paths.StatePath); err == nil {
		ctl, err := control.LoadFromState(tp, dispatcher, cfg.Paths.StatePath, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: loading state from %s: %v", exitcode.ErrInfra, cfg.Paths.StatePath, err)
		}
		return ctl, nil
	}
	return control.New(tp, dispatcher, opts...), nil
}

func progressStatePath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.Paths.StatePath), "progress_state.json")
}
