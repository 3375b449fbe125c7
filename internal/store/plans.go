package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/planforge/planforge/internal/plan"
)

// SavePlan saves or replaces a plan and its task graph. Saves are
// idempotent.
func (s *Store) SavePlan(ctx context.Context, planID string, tp *plan.TaskPlan) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plans (id, llm_model, spec_length, approved, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			llm_model = excluded.llm_model,
			spec_length = excluded.spec_length,
			approved = excluded.approved,
			created_at = excluded.created_at,
			updated_at = CURRENT_TIMESTAMP
	`, planID, tp.Model(), tp.SpecLengthUsed(), tp.Approved(), tp.CreatedAt().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert plan: %w", err)
	}

	// Replace the task graph wholesale
	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_tasks WHERE plan_id = ?`, planID); err != nil {
		return fmt.Errorf("failed to delete old tasks: %w", err)
	}

	for i, task := range tp.Tasks() {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO plan_tasks (plan_id, id, title, description, acceptance_criteria,
				effort_estimate, risk_level, validation_strategy, stream_id, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, planID, task.ID, task.Title, task.Description, task.AcceptanceCriteria,
			string(task.EffortEstimate), string(task.RiskLevel), string(task.ValidationStrategy),
			task.StreamID, i)
		if err != nil {
			return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
		}
	}
	for _, task := range tp.Tasks() {
		for _, depID := range task.Dependencies {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO plan_task_dependencies (plan_id, task_id, depends_on_id)
				VALUES (?, ?, ?)
			`, planID, task.ID, depID)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// planRow mirrors the JSON wire form the plan package serializes.
type planRow struct {
	Tasks          []*plan.Task `json:"tasks"`
	Model          string       `json:"llm_model"`
	SpecLengthUsed int          `json:"spec_length_used"`
	CreatedAt      time.Time    `json:"created_at"`
	Approved       bool         `json:"approved"`
}

// LoadPlan reconstructs a saved plan, tasks in original order.
func (s *Store) LoadPlan(ctx context.Context, planID string) (*plan.TaskPlan, error) {
	var row planRow
	var approved int
	err := s.db.QueryRowContext(ctx, `
		SELECT llm_model, spec_length, approved, created_at
		FROM plans
		WHERE id = ?
	`, planID).Scan(&row.Model, &row.SpecLengthUsed, &approved, &row.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plan not found: %s", planID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query plan: %w", err)
	}
	row.Approved = approved != 0

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, acceptance_criteria,
			effort_estimate, risk_level, validation_strategy, stream_id
		FROM plan_tasks
		WHERE plan_id = ?
		ORDER BY position
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		task := &plan.Task{Dependencies: []string{}}
		var effort, risk, strategy string
		if err := rows.Scan(&task.ID, &task.Title, &task.Description, &task.AcceptanceCriteria,
			&effort, &risk, &strategy, &task.StreamID); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		task.EffortEstimate = plan.Effort(effort)
		task.RiskLevel = plan.RiskLevel(risk)
		task.ValidationStrategy = plan.Strategy(strategy)

		depRows, err := s.db.QueryContext(ctx, `
			SELECT depends_on_id
			FROM plan_task_dependencies
			WHERE plan_id = ? AND task_id = ?
		`, planID, task.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to query dependencies for task %s: %w", task.ID, err)
		}
		for depRows.Next() {
			var depID string
			if err := depRows.Scan(&depID); err != nil {
				depRows.Close()
				return nil, fmt.Errorf("failed to scan dependency: %w", err)
			}
			task.Dependencies = append(task.Dependencies, depID)
		}
		depRows.Close()
		if err := depRows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating dependencies: %w", err)
		}

		row.Tasks = append(row.Tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	// Round-trip through the plan's own wire form so provenance and
	// approval survive without reaching into its internals.
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	return plan.FromJSON(data)
}

// ListPlanIDs returns the saved plan identifiers, oldest first.
func (s *Store) ListPlanIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM plans ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan plan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}
	return ids, nil
}
