package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/klauss/klauss/internal/model"
)

const taskColumns = `id, prompt, working_dir, context_files, expected_outputs, metadata,
	priority, job_id, parent_task_id, verification_hooks, auto_verify, status, worker_id,
	created_at, claimed_at, started_at, completed_at, result, error`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var contextFiles, expectedOutputs, metadata, hooks string
	var autoVerify int
	var result sql.NullString

	err := row.Scan(
		&t.ID, &t.Prompt, &t.WorkingDir, &contextFiles, &expectedOutputs, &metadata,
		&t.Priority, &t.JobID, &t.ParentTaskID, &hooks, &autoVerify, &t.Status, &t.WorkerID,
		&t.CreatedAt, &t.ClaimedAt, &t.StartedAt, &t.CompletedAt, &result, &t.Error,
	)
	if err != nil {
		return nil, err
	}

	t.ContextFiles = unmarshalStrings(contextFiles)
	t.ExpectedOutputs = unmarshalStrings(expectedOutputs)
	t.VerificationHooks = unmarshalHooks(hooks)
	t.AutoVerify = autoVerify != 0
	if metadata != "" {
		t.Metadata = json.RawMessage(metadata)
	}
	if result.Valid {
		outcome, err := unmarshalOutcome(result.String)
		if err != nil {
			return nil, fmt.Errorf("decode result for task %d: %w", t.ID, err)
		}
		t.Result = outcome
	}
	return &t, nil
}

// AddTask inserts a new task and its dependency edges in one transaction and
// returns the assigned ID. Dependency IDs must already exist as rows (each
// is checked inside the transaction); internal/queue is responsible for
// cycle detection before calling this.
func (s *Store) AddTask(ctx context.Context, t *model.Task) (int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	metadata := string(t.Metadata)
	if metadata == "" {
		metadata = "{}"
	}
	autoVerify := 0
	if t.AutoVerify {
		autoVerify = 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (prompt, working_dir, context_files, expected_outputs, metadata,
			priority, job_id, parent_task_id, verification_hooks, auto_verify, status, worker_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Prompt, t.WorkingDir, marshalStrings(t.ContextFiles), marshalStrings(t.ExpectedOutputs), metadata,
		t.Priority, t.JobID, t.ParentTaskID, marshalHooks(t.VerificationHooks), autoVerify, model.TaskPending, "")
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted task id: %w", err)
	}

	for _, depID := range t.DependsOn {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, depID).Scan(&exists)
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("dependency task %d does not exist", depID)
		}
		if err != nil {
			return 0, fmt.Errorf("check dependency %d: %w", depID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)
		`, id, depID); err != nil {
			return 0, fmt.Errorf("insert dependency %d -> %d: %w", id, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

func (s *Store) loadDependencies(ctx context.Context, taskID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT depends_on_id FROM task_dependencies WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query dependencies: %w", err)
	}
	defer rows.Close()

	var deps []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		deps = append(deps, id)
	}
	return deps, rows.Err()
}

// GetTask retrieves a task by ID, including its dependency list.
func (s *Store) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task %d: %w", id, err)
	}
	deps, err := s.loadDependencies(ctx, id)
	if err != nil {
		return nil, err
	}
	t.DependsOn = deps
	return t, nil
}

// TaskExists reports whether a task with the given ID exists.
func (s *Store) TaskExists(ctx context.Context, id int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check task %d exists: %w", id, err)
	}
	return true, nil
}

func (s *Store) listTasksWhere(ctx context.Context, where string, args ...interface{}) ([]*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range tasks {
		deps, err := s.loadDependencies(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		t.DependsOn = deps
	}
	return tasks, nil
}

// ListTasks returns every task, across all jobs.
func (s *Store) ListTasks(ctx context.Context) ([]*model.Task, error) {
	return s.listTasksWhere(ctx, "")
}

// ListByStatus returns every task in the given status.
func (s *Store) ListByStatus(ctx context.Context, status model.TaskStatus) ([]*model.Task, error) {
	return s.listTasksWhere(ctx, "status = ?", status)
}

// ListByJob returns every task belonging to jobID.
func (s *Store) ListByJob(ctx context.Context, jobID string) ([]*model.Task, error) {
	return s.listTasksWhere(ctx, "job_id = ?", jobID)
}

// ListReady returns every pending task whose dependencies are all
// completed, in priority order (spec.md §4.1 list_ready, for observability
// rather than claiming).
func (s *Store) ListReady(ctx context.Context) ([]*model.Task, error) {
	tasks, err := s.listTasksWhere(ctx, "status = 'pending'")
	if err != nil {
		return nil, err
	}
	ready := tasks[:0]
	for _, t := range tasks {
		if len(t.DependsOn) == 0 {
			ready = append(ready, t)
			continue
		}
		allDone := true
		for _, dep := range t.DependsOn {
			depTask, err := s.GetTask(ctx, dep)
			if err != nil || depTask.Status != model.TaskCompleted {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, t)
		}
	}
	sortTasksByPriority(ready)
	return ready, nil
}

func sortTasksByPriority(tasks []*model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// Claim atomically assigns the highest-priority, oldest, dependency-satisfied
// pending task to workerID and returns it. It returns ErrNoReadyTask if
// nothing is currently eligible.
//
// The eligibility check (no incomplete dependency) and the row selection
// happen inside the same UPDATE statement's subquery, so two workers racing
// this call can never be handed the same task: SQLite's writer serialization
// guarantees the subquery and the UPDATE observe a consistent snapshot and
// only one of the two transactions wins the row.
func (s *Store) Claim(ctx context.Context, workerID string) (*model.Task, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var claimedID int64
	err = tx.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = 'claimed', worker_id = ?, claimed_at = CURRENT_TIMESTAMP
		WHERE id = (
			SELECT t.id FROM tasks t
			WHERE t.status = 'pending'
			  AND NOT EXISTS (
				SELECT 1 FROM task_dependencies td
				JOIN tasks dt ON dt.id = td.depends_on_id
				WHERE td.task_id = t.id AND dt.status != 'completed'
			  )
			ORDER BY t.priority DESC, t.id ASC
			LIMIT 1
		)
		RETURNING id
	`, workerID).Scan(&claimedID)
	if err == sql.ErrNoRows {
		return nil, ErrNoReadyTask
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, claimedID)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("reload claimed task %d: %w", claimedID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	deps, err := s.loadDependencies(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.DependsOn = deps
	return t, nil
}

// StartTask transitions a claimed task to in_progress and stamps started_at.
// It fails if id is not currently owned by workerID (spec.md §4.1: "fails if
// not owned by worker_id") — this fences a worker that was swept by
// SweepStale and reclaimed by another worker out of mutating the row it no
// longer owns.
func (s *Store) StartTask(ctx context.Context, id int64, workerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'in_progress', started_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'claimed' AND worker_id = ?
	`, id, workerID)
	if err != nil {
		return fmt.Errorf("start task %d: %w", id, err)
	}
	return requireRowsAffected(res, id)
}

// CompleteTask transitions an in_progress task to completed and attaches its
// outcome, clearing worker_id since spec.md §3 requires terminal-state tasks
// to have a null owner. It fails if id is not currently owned by workerID,
// for the same fencing reason as StartTask.
func (s *Store) CompleteTask(ctx context.Context, id int64, workerID string, outcome *model.TaskOutcome) error {
	payload, err := marshalOutcome(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome for task %d: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'completed', completed_at = CURRENT_TIMESTAMP, result = ?, worker_id = ''
		WHERE id = ? AND status = 'in_progress' AND worker_id = ?
	`, payload, id, workerID)
	if err != nil {
		return fmt.Errorf("complete task %d: %w", id, err)
	}
	return requireRowsAffected(res, id)
}

// FailTask transitions an in_progress task to failed, recording errMsg and
// clearing worker_id (same terminal-state invariant as CompleteTask). result
// is left NULL: spec.md §3 requires result and error to never both be
// populated, so any diagnostic detail belongs in errMsg, not a stored
// outcome. It fails if id is not currently owned by workerID, for the same
// fencing reason as StartTask.
func (s *Store) FailTask(ctx context.Context, id int64, workerID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'failed', completed_at = CURRENT_TIMESTAMP, error = ?, worker_id = ''
		WHERE id = ? AND status = 'in_progress' AND worker_id = ?
	`, errMsg, id, workerID)
	if err != nil {
		return fmt.Errorf("fail task %d: %w", id, err)
	}
	return requireRowsAffected(res, id)
}

// ResetTask returns a task to pending, clearing ownership and timestamps so
// it becomes eligible for Claim again. Valid from claimed, in_progress, or
// failed.
func (s *Store) ResetTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'pending', worker_id = '', claimed_at = NULL, started_at = NULL,
			completed_at = NULL, result = NULL, error = ''
		WHERE id = ? AND status IN ('claimed', 'in_progress', 'failed')
	`, id)
	if err != nil {
		return fmt.Errorf("reset task %d: %w", id, err)
	}
	return requireRowsAffected(res, id)
}

func requireRowsAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: task %d (or not in expected state)", ErrNotFound, id)
	}
	return nil
}

// Stats returns aggregate counts across all tasks, optionally scoped to a
// single job when jobID is non-empty.
func (s *Store) Stats(ctx context.Context, jobID string) (*model.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM tasks`
	var args []interface{}
	if jobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	query += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var stats model.QueueStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		switch model.TaskStatus(status) {
		case model.TaskPending:
			stats.Pending = count
		case model.TaskClaimed:
			stats.Claimed = count
		case model.TaskInProgress:
			stats.InProgress = count
		case model.TaskCompleted:
			stats.Completed = count
		case model.TaskFailed:
			stats.Failed = count
		}
	}
	return &stats, rows.Err()
}
