package store

import "errors"

// ErrNotFound is returned when a lookup by ID finds no row.
var ErrNotFound = errors.New("store: not found")

// ErrNoReadyTask is returned by Claim when no pending task currently has
// all of its dependencies satisfied.
var ErrNoReadyTask = errors.New("store: no ready task")
