// Package store is the durable, transactional SQLite-backed persistence
// layer described in spec.md §3, §4.1 and §6. It knows nothing about
// priority/dependency policy beyond what is needed to implement the atomic
// claim itself — that policy lives in internal/queue.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store is the durable persistence interface over tasks, jobs, workers, and
// shared context. All mutating methods are individually transactional.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) a SQLite-backed store at path.
// Enables WAL mode, a busy timeout, and foreign keys, matching the
// teacher's persistence.NewSQLiteStore conventions.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite admits one writer at a time; capping the pool at two
	// connections limits how many transactions contend for that lock under
	// concurrent claim attempts. Neither connection is reserved for reads.
	db.SetMaxOpenConns(2)

	s := &Store{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// OpenMemory opens an in-memory store for tests, using a shared cache so
// multiple connections observe the same database (teacher's NewMemoryStore
// idiom).
func OpenMemory(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	db.SetMaxOpenConns(2)

	s := &Store{db: db, path: ":memory:"}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Path returns the resolved path this store was opened against, so
// components can log it at startup (spec.md §4.1: "every component logs
// the resolved path at startup").
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }
