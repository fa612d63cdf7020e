package store

import "context"

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prompt TEXT NOT NULL,
		working_dir TEXT NOT NULL DEFAULT '',
		context_files TEXT NOT NULL DEFAULT '[]',
		expected_outputs TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		priority INTEGER NOT NULL DEFAULT 0,
		job_id TEXT NOT NULL DEFAULT '',
		parent_task_id INTEGER NOT NULL DEFAULT 0,
		verification_hooks TEXT NOT NULL DEFAULT '[]',
		auto_verify INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'pending',
		worker_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		claimed_at DATETIME,
		started_at DATETIME,
		completed_at DATETIME,
		result TEXT,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id INTEGER NOT NULL,
		depends_on_id INTEGER NOT NULL,
		PRIMARY KEY (task_id, depends_on_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_task_id ON task_dependencies(task_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status_priority ON tasks(status, priority DESC, id ASC);
	CREATE INDEX IF NOT EXISTS idx_tasks_job_id ON tasks(job_id);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS workers (
		worker_id TEXT PRIMARY KEY,
		pid INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		last_heartbeat DATETIME NOT NULL,
		current_task_id INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'idle'
	);

	CREATE TABLE IF NOT EXISTS shared_context (
		key TEXT NOT NULL,
		job_id TEXT NOT NULL DEFAULT '',
		value TEXT NOT NULL,
		PRIMARY KEY (key, job_id)
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
