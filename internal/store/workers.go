package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/klauss/klauss/internal/model"
)

// RegisterWorker inserts or replaces a worker's row, matching the teacher's
// upsert-on-conflict idiom for idempotent startup. Timestamps are written in
// UTC as "YYYY-MM-DD HH:MM:SS", the form CURRENT_TIMESTAMP produces in
// Heartbeat, so SweepStale's strftime comparison can read them.
func (s *Store) RegisterWorker(ctx context.Context, w *model.WorkerRecord) error {
	const sqliteTime = "2006-01-02 15:04:05"
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (worker_id, pid, started_at, last_heartbeat, current_task_id, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET
			pid = excluded.pid,
			started_at = excluded.started_at,
			last_heartbeat = excluded.last_heartbeat,
			current_task_id = excluded.current_task_id,
			status = excluded.status
	`, w.WorkerID, w.PID, w.StartedAt.UTC().Format(sqliteTime), w.LastHeartbeat.UTC().Format(sqliteTime), w.CurrentTaskID, w.Status)
	if err != nil {
		return fmt.Errorf("register worker %s: %w", w.WorkerID, err)
	}
	return nil
}

// Heartbeat updates a worker's last_heartbeat timestamp and current status,
// called once per heartbeat interval from the worker's own ticker goroutine.
func (s *Store) Heartbeat(ctx context.Context, workerID string, currentTaskID int64, status model.WorkerStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workers SET last_heartbeat = CURRENT_TIMESTAMP, current_task_id = ?, status = ?
		WHERE worker_id = ?
	`, currentTaskID, status, workerID)
	if err != nil {
		return fmt.Errorf("heartbeat worker %s: %w", workerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: worker %s", ErrNotFound, workerID)
	}
	return nil
}

// MarkWorkerStopped records that a worker has exited, leaving its row in
// place for post-mortem inspection via the workers CLI command.
func (s *Store) MarkWorkerStopped(ctx context.Context, workerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workers SET status = 'stopped', current_task_id = 0 WHERE worker_id = ?
	`, workerID)
	if err != nil {
		return fmt.Errorf("mark worker %s stopped: %w", workerID, err)
	}
	return nil
}

// ListWorkers returns every known worker, most recently started first.
func (s *Store) ListWorkers(ctx context.Context) ([]*model.WorkerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, pid, started_at, last_heartbeat, current_task_id, status
		FROM workers ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query workers: %w", err)
	}
	defer rows.Close()

	var workers []*model.WorkerRecord
	for rows.Next() {
		var w model.WorkerRecord
		if err := rows.Scan(&w.WorkerID, &w.PID, &w.StartedAt, &w.LastHeartbeat, &w.CurrentTaskID, &w.Status); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		workers = append(workers, &w)
	}
	return workers, rows.Err()
}

// SweepStale finds tasks claimed or in-progress whose owning worker's last
// heartbeat is older than staleAfter and resets them to pending, returning
// the IDs reclaimed. This is the liveness mechanism referenced in spec.md
// §9: a worker that dies mid-task does not strand it forever.
func (s *Store) SweepStale(ctx context.Context, staleAfter time.Duration) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoffSeconds := int64(staleAfter.Seconds())

	rows, err := tx.QueryContext(ctx, `
		SELECT t.id FROM tasks t
		JOIN workers w ON w.worker_id = t.worker_id
		WHERE t.status IN ('claimed', 'in_progress')
		  AND strftime('%s', 'now') - strftime('%s', w.last_heartbeat) > ?
	`, cutoffSeconds)
	if err != nil {
		return nil, fmt.Errorf("query stale tasks: %w", err)
	}
	var staleIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale task: %w", err)
		}
		staleIDs = append(staleIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range staleIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = 'pending', worker_id = '', claimed_at = NULL, started_at = NULL
			WHERE id = ?
		`, id); err != nil {
			return nil, fmt.Errorf("reclaim stale task %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit stale sweep: %w", err)
	}
	return staleIDs, nil
}
