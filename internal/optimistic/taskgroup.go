package optimistic

import (
	"context"
	"sync"
)

// TaskKind tags a network task for cancellation purposes
type TaskKind string

const (
	TaskSave TaskKind = "save"
	TaskSend TaskKind = "send"
)

func (k TaskKind) opposite() TaskKind {
	if k == TaskSave {
		return TaskSend
	}
	return TaskSave
}

type groupTask struct {
	kind   TaskKind
	cancel context.CancelFunc
}

// TaskGroups tracks in-flight tasks per draft or message id. Starting a task
// of one kind aborts the outstanding tasks of the opposite kind for the same
// id, so a send supersedes a pending save and the other way round. Tasks of
// the same kind are left to the engine, which runs them in order.
type TaskGroups struct {
	mu    sync.Mutex
	tasks map[string][]*groupTask
}

// NewTaskGroups creates an empty registry
func NewTaskGroups() *TaskGroups {
	return &TaskGroups{tasks: make(map[string][]*groupTask)}
}

// Start registers a task of kind under key, cancelling opposing tasks. The
// returned release func must be called when the task finishes.
func (g *TaskGroups) Start(parent context.Context, key string, kind TaskKind) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	t := &groupTask{kind: kind, cancel: cancel}

	g.mu.Lock()
	g.cancelLocked(key, kind.opposite())
	g.tasks[key] = append(g.tasks[key], t)
	g.mu.Unlock()

	release := func() {
		cancel()
		g.mu.Lock()
		defer g.mu.Unlock()
		tasks := g.tasks[key]
		for i, other := range tasks {
			if other == t {
				tasks = append(tasks[:i], tasks[i+1:]...)
				break
			}
		}
		if len(tasks) == 0 {
			delete(g.tasks, key)
		} else {
			g.tasks[key] = tasks
		}
	}
	return ctx, release
}

// Cancel aborts every outstanding task of kind under key and reports how many
func (g *TaskGroups) Cancel(key string, kind TaskKind) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.cancelLocked(key, kind)
}

func (g *TaskGroups) cancelLocked(key string, kind TaskKind) int {
	n := 0
	kept := g.tasks[key][:0]
	for _, t := range g.tasks[key] {
		if t.kind == kind {
			t.cancel()
			n++
			continue
		}
		kept = append(kept, t)
	}
	if len(kept) == 0 {
		delete(g.tasks, key)
	} else {
		g.tasks[key] = kept
	}
	return n
}

// Outstanding returns the number of tasks registered under key
func (g *TaskGroups) Outstanding(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.tasks[key])
}
