package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SetSharedContext upserts a key/value pair scoped to a job (jobID may be
// empty for global context, per spec.md §4.5).
func (s *Store) SetSharedContext(ctx context.Context, jobID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shared_context (key, job_id, value) VALUES (?, ?, ?)
		ON CONFLICT(key, job_id) DO UPDATE SET value = excluded.value
	`, key, jobID, value)
	if err != nil {
		return fmt.Errorf("set shared context %q (job %q): %w", key, jobID, err)
	}
	return nil
}

// GetSharedContext looks up a value scoped to a job, falling back to the
// global (empty job_id) entry if no job-scoped one exists.
func (s *Store) GetSharedContext(ctx context.Context, jobID, key string) (string, error) {
	var value string
	if jobID != "" {
		err := s.db.QueryRowContext(ctx, `
			SELECT value FROM shared_context WHERE key = ? AND job_id = ?
		`, key, jobID).Scan(&value)
		if err == nil {
			return value, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("get shared context %q (job %q): %w", key, jobID, err)
		}
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM shared_context WHERE key = ? AND job_id = ''
	`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get shared context %q: %w", key, err)
	}
	return value, nil
}

// DeleteSharedContext removes a job-scoped (or global, if jobID is empty) entry.
func (s *Store) DeleteSharedContext(ctx context.Context, jobID, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM shared_context WHERE key = ? AND job_id = ?
	`, key, jobID)
	if err != nil {
		return fmt.Errorf("delete shared context %q (job %q): %w", key, jobID, err)
	}
	return nil
}

// ListSharedContext returns every entry visible to jobID: the global
// (empty job_id) entries plus any job-scoped overrides, job-scoped values
// winning on key collision. Used by the worker to build the "Project
// Conventions" prompt preamble (spec.md §4.3 point 3).
func (s *Store) ListSharedContext(ctx context.Context, jobID string) (map[string]string, error) {
	out := make(map[string]string)

	globalRows, err := s.db.QueryContext(ctx, `SELECT key, value FROM shared_context WHERE job_id = ''`)
	if err != nil {
		return nil, fmt.Errorf("query global shared context: %w", err)
	}
	for globalRows.Next() {
		var k, v string
		if err := globalRows.Scan(&k, &v); err != nil {
			globalRows.Close()
			return nil, fmt.Errorf("scan global shared context: %w", err)
		}
		out[k] = v
	}
	globalRows.Close()
	if err := globalRows.Err(); err != nil {
		return nil, err
	}

	if jobID == "" {
		return out, nil
	}

	jobRows, err := s.db.QueryContext(ctx, `SELECT key, value FROM shared_context WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job shared context: %w", err)
	}
	defer jobRows.Close()
	for jobRows.Next() {
		var k, v string
		if err := jobRows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan job shared context: %w", err)
		}
		out[k] = v
	}
	return out, jobRows.Err()
}
