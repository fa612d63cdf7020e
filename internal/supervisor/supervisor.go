// Package supervisor implements the coordinator described in spec.md §4.4:
// it maintains N live worker processes, restarts crashes under a bounded
// budget, captures each worker's stdout/stderr into a per-worker log file,
// and initiates a cascading shutdown after either a signal or a queue-wide
// idle timeout. Grounded on the teacher's backend.ProcessManager (subprocess
// tracking + KillAll) and cmd/orchestrator/main.go's signal.NotifyContext
// shutdown sequence, generalized from "track ad-hoc CLI subprocesses spawned
// per task" to "supervise N long-running self-exec'd worker processes with
// a restart state machine."
package supervisor

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/klauss/klauss/internal/queue"
)

// slotState is where a worker slot sits in the spawning → running → exited
// state machine (spec.md §4.4).
type slotState string

const (
	slotSpawning slotState = "spawning"
	slotRunning  slotState = "running"
	slotExited   slotState = "exited"
)

// restartBudget is the bounded-restart policy: a slot that exits this many
// times within this window is disabled and alerted on, rather than
// respawned forever (spec.md §4.4).
const (
	restartBudgetCount  = 5
	restartBudgetWindow = 60 * time.Second
)

// Config tunes the coordinator.
type Config struct {
	WorkerCount   int
	IdleTimeout   time.Duration
	ShutdownGrace time.Duration
	SweepInterval time.Duration
	LogDir        string
	// WorkerBinary is the executable to self-exec for each worker slot,
	// normally os.Executable(). Overridable for tests.
	WorkerBinary string
	// WorkerArgs builds the CLI args for the hidden worker subcommand given
	// a worker ID (e.g. {"_worker", "--worker-id=worker_1"}).
	WorkerArgs func(workerID string) []string
}

// DefaultConfig mirrors spec.md §4.4's defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:   4,
		IdleTimeout:   300 * time.Second,
		ShutdownGrace: 10 * time.Second,
		SweepInterval: 15 * time.Second,
		LogDir:        "logs",
	}
}

type slot struct {
	id       string
	cmd      *exec.Cmd
	state    slotState
	restarts []time.Time
	disabled bool
}

// Supervisor supervises a fixed-size pool of worker processes.
type Supervisor struct {
	cfg    Config
	q      *queue.Queue
	logger *log.Logger

	mu    sync.Mutex
	slots map[string]*slot

	exited chan string
}

// New creates a Supervisor. logger defaults to a coordinator.log writer in
// cfg.LogDir if nil.
func New(cfg Config, q *queue.Queue, logger *log.Logger) (*Supervisor, error) {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultConfig().ShutdownGrace
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if cfg.LogDir == "" {
		cfg.LogDir = DefaultConfig().LogDir
	}
	if cfg.WorkerBinary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve worker binary: %w", err)
		}
		cfg.WorkerBinary = exe
	}

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	if logger == nil {
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, "coordinator.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open coordinator.log: %w", err)
		}
		logger = log.New(f, "", log.LstdFlags)
	}

	return &Supervisor{
		cfg:    cfg,
		q:      q,
		logger: logger,
		slots:  make(map[string]*slot),
		exited: make(chan string, cfg.WorkerCount*2),
	}, nil
}

func (sv *Supervisor) logf(phase, format string, args ...interface{}) {
	sv.logger.Printf("[coordinator] [%s] %s", phase, fmt.Sprintf(format, args...))
}

// Run spawns the worker pool and supervises it until ctx is cancelled or
// queue-wide idleness triggers a cascading shutdown, following spec.md
// §4.4's tick ≈ 1s supervisor loop.
func (sv *Supervisor) Run(ctx context.Context) error {
	if _, err := sv.q.SweepStale(ctx); err != nil {
		sv.logf("SWEEP", "startup sweep failed: %v", err)
	}

	// Spawning N slots does independent file/process I/O per slot, so the
	// pool comes up concurrently instead of one worker at a time — the same
	// errgroup-fan-out idiom the teacher uses to run a wave of independent
	// tasks concurrently (internal/orchestrator/runner.go), here fanning out
	// over worker slots instead of DAG-ready tasks.
	var startup errgroup.Group
	for i := 1; i <= sv.cfg.WorkerCount; i++ {
		id := fmt.Sprintf("worker_%d", i)
		startup.Go(func() error {
			sv.spawn(id)
			return nil
		})
	}
	startup.Wait()

	lastActivity := time.Now()
	var lastInProgress, lastTerminal int = -1, -1

	tick := time.NewTicker(1 * time.Second)
	defer tick.Stop()
	sweep := time.NewTicker(sv.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			sv.logf("SHUTDOWN", "context cancelled, shutting down pool")
			sv.shutdownAll()
			return nil

		case id := <-sv.exited:
			sv.handleExit(id)

		case <-sweep.C:
			ids, err := sv.q.SweepStale(ctx)
			if err != nil {
				sv.logf("SWEEP", "sweep failed: %v", err)
			} else if len(ids) > 0 {
				sv.logf("SWEEP", "reclaimed stale tasks: %v", ids)
			}

		case <-tick.C:
			stats, err := sv.q.Stats(ctx, "")
			if err != nil {
				sv.logf("POLL", "stats failed: %v", err)
				continue
			}
			terminal := stats.Completed + stats.Failed
			if stats.InProgress != lastInProgress || terminal != lastTerminal {
				lastActivity = time.Now()
				lastInProgress = stats.InProgress
				lastTerminal = terminal
			}

			idleFor := time.Since(lastActivity)
			if idleFor > sv.cfg.IdleTimeout && stats.Pending == 0 && stats.InProgress == 0 && stats.Claimed == 0 {
				sv.logf("SHUTDOWN", "idle for %s with an empty queue, shutting down pool", idleFor)
				sv.shutdownAll()
				return nil
			}
		}
	}
}

// spawn starts (or restarts) a worker process for id, redirecting its
// stdout/stderr to logs/{id}.log and launching the goroutine that reports
// its exit back to the supervisor loop.
func (sv *Supervisor) spawn(id string) {
	sv.mu.Lock()
	s, ok := sv.slots[id]
	if !ok {
		s = &slot{id: id}
		sv.slots[id] = s
	}
	s.state = slotSpawning
	sv.mu.Unlock()

	logPath := filepath.Join(sv.cfg.LogDir, id+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		sv.logf("SPAWN", "open log for %s failed: %v", id, err)
		return
	}

	args := []string{"_worker", "--worker-id=" + id}
	if sv.cfg.WorkerArgs != nil {
		args = sv.cfg.WorkerArgs(id)
	}
	cmd := exec.Command(sv.cfg.WorkerBinary, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		sv.logf("SPAWN", "start %s failed: %v", id, err)
		return
	}
	sv.logf("SPAWN", "started %s (pid %d)", id, cmd.Process.Pid)

	sv.mu.Lock()
	s.cmd = cmd
	s.state = slotRunning
	sv.mu.Unlock()

	go func() {
		err := cmd.Wait()
		logFile.Close()
		if err != nil {
			sv.logf("EXIT", "%s exited: %v", id, err)
		} else {
			sv.logf("EXIT", "%s exited cleanly", id)
		}
		sv.exited <- id
	}()
}

// handleExit applies the restart-budget policy (spec.md §4.4: "≥5 restarts
// within 60s disables that slot").
func (sv *Supervisor) handleExit(id string) {
	sv.mu.Lock()
	s, ok := sv.slots[id]
	if !ok {
		sv.mu.Unlock()
		return
	}
	s.state = slotExited
	now := time.Now()
	s.restarts = append(s.restarts, now)
	cutoff := now.Add(-restartBudgetWindow)
	kept := s.restarts[:0]
	for _, t := range s.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restarts = kept
	exceeded := len(s.restarts) >= restartBudgetCount
	if exceeded {
		s.disabled = true
	}
	sv.mu.Unlock()

	if exceeded {
		sv.logf("ALERT", "%s exceeded %d restarts in %s, disabling slot", id, restartBudgetCount, restartBudgetWindow)
		return
	}
	sv.spawn(id)
}

// shutdownAll sends TERM to every live slot, waits up to ShutdownGrace, then
// escalates to KILL for anything still alive (spec.md §4.4 point 2).
func (sv *Supervisor) shutdownAll() {
	sv.mu.Lock()
	var live []*slot
	for _, s := range sv.slots {
		if s.cmd != nil && s.cmd.Process != nil && s.state != slotExited {
			live = append(live, s)
		}
	}
	sv.mu.Unlock()

	for _, s := range live {
		_ = syscall.Kill(-s.cmd.Process.Pid, syscall.SIGTERM)
	}

	deadline := time.After(sv.cfg.ShutdownGrace)
	remaining := len(live)
	for remaining > 0 {
		select {
		case <-sv.exited:
			remaining--
		case <-deadline:
			sv.mu.Lock()
			for _, s := range live {
				if s.state != slotExited && s.cmd.Process != nil {
					_ = syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL)
				}
			}
			sv.mu.Unlock()
			return
		}
	}
}

// SlotStatus is a point-in-time snapshot of one worker slot, as returned
// by Status.
type SlotStatus struct {
	WorkerID string
	PID      int
	State    string
	Disabled bool
}

func (sv *Supervisor) Status() []SlotStatus {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	out := make([]SlotStatus, 0, len(sv.slots))
	for _, s := range sv.slots {
		st := SlotStatus{WorkerID: s.id, State: string(s.state), Disabled: s.disabled}
		if s.cmd != nil && s.cmd.Process != nil {
			st.PID = s.cmd.Process.Pid
		}
		out = append(out, st)
	}
	return out
}
