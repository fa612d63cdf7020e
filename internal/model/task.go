// Package model holds the plain data types shared by the store, queue,
// worker, and orchestrator packages.
package model

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskClaimed    TaskStatus = "claimed"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// IsTerminal reports whether a task status is a terminal (completed/failed) state.
func IsTerminal(s TaskStatus) bool {
	return s == TaskCompleted || s == TaskFailed
}

// VerificationHook is a single post-execution check the task declares, or
// one synthesized by auto-detection.
type VerificationHook struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// HookResult is the outcome of running one VerificationHook.
type HookResult struct {
	Description string `json:"hook_description"`
	Passed      bool   `json:"passed"`
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	ExitCode    int    `json:"exit_code"`
}

// VerificationReport is the in-memory (and, once attached to a result,
// persisted) record of a task's post-execution verification pass.
type VerificationReport struct {
	Passed  bool         `json:"passed"`
	Results []HookResult `json:"results"`
}

// TaskOutcome is the success payload stored for a completed task. A failed
// task has no TaskOutcome; its message is carried in Task.Error instead.
type TaskOutcome struct {
	Stdout       string               `json:"stdout,omitempty"`
	Stderr       string               `json:"stderr,omitempty"`
	Verification *VerificationReport  `json:"verification,omitempty"`
}

// Task is the unit of work described in spec.md §3.
type Task struct {
	ID                int64              `json:"id"`
	Prompt            string             `json:"prompt"`
	WorkingDir        string             `json:"working_dir,omitempty"`
	ContextFiles      []string           `json:"context_files,omitempty"`
	ExpectedOutputs   []string           `json:"expected_outputs,omitempty"`
	Metadata          json.RawMessage    `json:"metadata,omitempty"`
	Priority          int                `json:"priority"`
	JobID             string             `json:"job_id,omitempty"` // empty means unset
	ParentTaskID      int64              `json:"parent_task_id,omitempty"` // 0 means unset
	DependsOn         []int64            `json:"depends_on,omitempty"`
	VerificationHooks []VerificationHook `json:"verification_hooks,omitempty"`
	AutoVerify        bool               `json:"auto_verify"`

	Status   TaskStatus `json:"status"`
	WorkerID string     `json:"worker_id,omitempty"` // empty when unowned

	CreatedAt   time.Time  `json:"created_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Result *TaskOutcome `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"` // empty means unset
}

// JobStatus is the derived, computed-on-read status of a Job (spec.md §3).
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is the logical grouping of tasks described in spec.md §3.
type Job struct {
	ID          string
	Description string
	CreatedAt   time.Time
}

// JobProgress is the aggregate view the Orchestrator API exposes via
// GetJobStatus (spec.md §4.5).
type JobProgress struct {
	JobID       string
	Total       int
	Pending     int
	InProgress  int
	Completed   int
	Failed      int
	Status      JobStatus
	ProgressPct float64
}

// WorkerStatus is the lifecycle state of a worker record.
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerBusy    WorkerStatus = "busy"
	WorkerStopped WorkerStatus = "stopped"
)

// WorkerRecord is one row of the workers table (spec.md §3).
type WorkerRecord struct {
	WorkerID      string
	PID           int
	StartedAt     time.Time
	LastHeartbeat time.Time
	CurrentTaskID int64 // 0 means none
	Status        WorkerStatus
}

// QueueStats is the aggregate counts exposed by Queue.Stats (spec.md §4.1).
type QueueStats struct {
	Pending    int
	Claimed    int
	InProgress int
	Completed  int
	Failed     int
}
