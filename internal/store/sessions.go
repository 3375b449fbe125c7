package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveSession records which agent and runtime were used for a task.
// Re-dispatching a task replaces the previous session.
func (s *Store) SaveSession(ctx context.Context, taskID, agentID, runtime, model string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_sessions (task_id, agent_id, runtime, model)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			agent_id = excluded.agent_id,
			runtime = excluded.runtime,
			model = excluded.model
	`, taskID, agentID, runtime, model)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Session retrieves the agent session recorded for a task.
func (s *Store) Session(ctx context.Context, taskID string) (agentID, runtime, model string, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT agent_id, runtime, model
		FROM agent_sessions
		WHERE task_id = ?
	`, taskID).Scan(&agentID, &runtime, &model)
	if err == sql.ErrNoRows {
		return "", "", "", fmt.Errorf("session not found for task: %s", taskID)
	}
	if err != nil {
		return "", "", "", fmt.Errorf("failed to query session: %w", err)
	}
	return agentID, runtime, model, nil
}
