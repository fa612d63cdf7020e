package queue

import (
	"context"
	"fmt"

	"github.com/gammazero/toposort"

	"github.com/klauss/klauss/internal/model"
)

// validateAcyclic checks that adding a task depending on dependsOn to the
// existing task set does not introduce a cycle. It loads every existing
// task's dependency edges plus the candidate edges and runs them through
// gammazero/toposort; a cycle surfaces as an error from Toposort itself.
func (q *Queue) validateAcyclic(ctx context.Context, newTaskPlaceholder int64, dependsOn []int64) error {
	existing, err := q.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("load existing tasks for cycle check: %w", err)
	}

	var edges []toposort.Edge
	seen := map[int64]bool{newTaskPlaceholder: true}
	for _, t := range existing {
		seen[t.ID] = true
		if len(t.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, dep := range t.DependsOn {
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	if len(dependsOn) == 0 {
		edges = append(edges, toposort.Edge{nil, newTaskPlaceholder})
	}
	for _, dep := range dependsOn {
		if !seen[dep] {
			return &ValidationError{Reason: fmt.Sprintf("depends on unknown task %d", dep)}
		}
		edges = append(edges, toposort.Edge{dep, newTaskPlaceholder})
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("adding this dependency set would create a cycle: %v", err)}
	}
	return nil
}

// nextPlaceholderID picks an ID guaranteed not to collide with any existing
// task, used only to stand in for the not-yet-inserted task during the
// cycle check above.
func nextPlaceholderID(existing []*model.Task) int64 {
	var max int64
	for _, t := range existing {
		if t.ID > max {
			max = t.ID
		}
	}
	return max + 1
}
