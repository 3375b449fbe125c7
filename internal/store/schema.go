package store

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		llm_model TEXT NOT NULL,
		spec_length INTEGER NOT NULL,
		approved INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS plan_tasks (
		plan_id TEXT NOT NULL,
		id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		acceptance_criteria TEXT,
		effort_estimate TEXT NOT NULL,
		risk_level TEXT NOT NULL,
		validation_strategy TEXT NOT NULL,
		stream_id TEXT,
		position INTEGER NOT NULL,
		PRIMARY KEY (plan_id, id),
		FOREIGN KEY (plan_id) REFERENCES plans(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS plan_task_dependencies (
		plan_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (plan_id, task_id, depends_on_id),
		FOREIGN KEY (plan_id, task_id) REFERENCES plan_tasks(plan_id, id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_plan_task_dependencies_task
		ON plan_task_dependencies(plan_id, task_id);

	CREATE TABLE IF NOT EXISTS conflicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL,
		stream_a TEXT NOT NULL,
		stream_b TEXT NOT NULL,
		resolution_notes TEXT,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conflicts_file_path ON conflicts(file_path);

	CREATE TABLE IF NOT EXISTS agent_sessions (
		task_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		runtime TEXT NOT NULL,
		model TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
