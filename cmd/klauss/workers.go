package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/klauss/klauss/internal/model"
	"github.com/klauss/klauss/internal/queue"
)

var workersWatch bool

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Print a table of live workers (PID/CPU/MEM/runtime) plus queue stats",
	RunE:  runWorkers,
}

func init() {
	workersCmd.Flags().BoolVar(&workersWatch, "watch", false, "keep the table live, refreshing once a second")
}

var (
	styleWorkersTitle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	styleWorkersIdle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styleWorkersBusy    = lipgloss.NewStyle().Foreground(lipgloss.Color("yellow")).Bold(true)
	styleWorkersStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("red"))
)

func runWorkers(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, q, s, err := openQueue(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if workersWatch {
		p := tea.NewProgram(newWorkersWatchModel(q))
		_, err := p.Run()
		return err
	}

	return renderWorkersOnce(ctx, q, os.Stdout)
}

func renderWorkersOnce(ctx context.Context, q *queue.Queue, out io.Writer) error {
	workers, err := q.ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	stats, err := q.Stats(ctx, "")
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, styleWorkersTitle.Render("WORKER")+"\tPID\tSTATUS\tTASK\tCPU%\tMEM%\tRUNTIME")
	for _, w := range workers {
		cpu, mem := psStat(w.PID)
		task := "-"
		if w.CurrentTaskID != 0 {
			task = strconv.FormatInt(w.CurrentTaskID, 10)
		}
		runtime := time.Since(w.StartedAt).Round(time.Second)
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			w.WorkerID, w.PID, statusStyle(w.Status).Render(string(w.Status)), task, cpu, mem, runtime)
	}
	if len(workers) == 0 {
		fmt.Fprintln(tw, "(no workers registered)\t\t\t\t\t\t")
	}
	tw.Flush()

	fmt.Fprintf(out, "\nqueue: pending=%d claimed=%d in_progress=%d completed=%d failed=%d\n",
		stats.Pending, stats.Claimed, stats.InProgress, stats.Completed, stats.Failed)
	return nil
}

// psStat shells out to `ps` for CPU%/MEM% — the same external-tool idiom
// the shell management wrapper uses, rather than pulling in a process-stats
// library for two display columns.
func psStat(pid int) (cpu, mem string) {
	if pid <= 0 {
		return "-", "-"
	}
	out, err := exec.Command("ps", "-o", "%cpu,%mem", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return "-", "-"
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return "-", "-"
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 2 {
		return "-", "-"
	}
	return fields[0], fields[1]
}

func statusStyle(status model.WorkerStatus) lipgloss.Style {
	switch status {
	case model.WorkerBusy:
		return styleWorkersBusy
	case model.WorkerStopped:
		return styleWorkersStopped
	default:
		return styleWorkersIdle
	}
}

// workersWatchModel is the --watch Bubble Tea program: it polls the same
// ListWorkers/Stats calls renderWorkersOnce uses, once a second, redirected
// from the teacher's DAG-progress rendering (internal/tui/dag_pane.go) to a
// live worker/queue-stats table built with the same bubbles/table +
// lipgloss stack (SPEC_FULL.md §4.5).
type workersWatchModel struct {
	q     *queue.Queue
	table table.Model
	stats *model.QueueStats
	err   error
}

type workersTickMsg struct{}

func newWorkersWatchModel(q *queue.Queue) workersWatchModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "WORKER", Width: 14},
			{Title: "PID", Width: 8},
			{Title: "STATUS", Width: 10},
			{Title: "TASK", Width: 8},
			{Title: "RUNTIME", Width: 10},
		}),
		table.WithFocused(false),
		table.WithHeight(10),
	)
	return workersWatchModel{q: q, table: t}
}

func (m workersWatchModel) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tickEvery())
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return workersTickMsg{} })
}

func (m workersWatchModel) refresh() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		workers, err := m.q.ListWorkers(ctx)
		if err != nil {
			return refreshedMsg{err: err}
		}
		stats, err := m.q.Stats(ctx, "")
		if err != nil {
			return refreshedMsg{err: err}
		}
		return refreshedMsg{workers: workers, stats: stats}
	}
}

type refreshedMsg struct {
	workers []*model.WorkerRecord
	stats   *model.QueueStats
	err     error
}

func (m workersWatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case workersTickMsg:
		return m, tea.Batch(m.refresh(), tickEvery())
	case refreshedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.stats, m.err = msg.stats, nil
		rows := make([]table.Row, 0, len(msg.workers))
		for _, w := range msg.workers {
			task := "-"
			if w.CurrentTaskID != 0 {
				task = strconv.FormatInt(w.CurrentTaskID, 10)
			}
			runtime := time.Since(w.StartedAt).Round(time.Second).String()
			rows = append(rows, table.Row{w.WorkerID, strconv.Itoa(w.PID), string(w.Status), task, runtime})
		}
		m.table.SetRows(rows)
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m workersWatchModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("error: %v\n(press q to quit)\n", m.err)
	}
	var b strings.Builder
	b.WriteString(styleWorkersTitle.Render("klauss workers") + "  (press q to quit)\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	if m.stats != nil {
		fmt.Fprintf(&b, "\nqueue: pending=%d claimed=%d in_progress=%d completed=%d failed=%d\n",
			m.stats.Pending, m.stats.Claimed, m.stats.InProgress, m.stats.Completed, m.stats.Failed)
	}
	return b.String()
}
