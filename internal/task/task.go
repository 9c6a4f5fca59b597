// Package task provides the node's cooperative-scheduling primitives:
// cancellable tasks, intrusive-style wait-list barriers, and a select
// combinator, standing in for the coroutine/Awaitable model the original
// firmware uses (see design notes on "coroutines everywhere"). Here a task
// is a goroutine; an Awaitable is a channel; a wait-list is a Barrier; and
// cancellation is a context.Context, which is the idiomatic Go rendition of
// "dropping an Awaitable removes it from its wait-list".
package task

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Task is a handle to a running goroutine. The owner keeps the handle;
// Cancel followed by Wait is the Go analogue of destroying a coroutine
// before freeing the storage that owns it (spec §4.A task storage lifetime).
type Task struct {
	ID     uuid.UUID
	Name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Spawn starts fn in its own goroutine bound to a child of ctx. fn must
// return when its context is cancelled; Spawn does not force termination.
func Spawn(ctx context.Context, logger *slog.Logger, name string, fn func(ctx context.Context)) *Task {
	cctx, cancel := context.WithCancel(ctx)
	t := &Task{
		ID:     uuid.New(),
		Name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		if logger != nil {
			logger.Debug("task started", "task", name, "id", t.ID)
		}
		fn(cctx)
		if logger != nil {
			logger.Debug("task ended", "task", name, "id", t.ID)
		}
	}()
	return t
}

// Cancel requests the task's goroutine stop; it does not block.
func (t *Task) Cancel() { t.cancel() }

// Wait blocks until the task's goroutine has returned.
func (t *Task) Wait() { <-t.done }

// CancelAndWait is the common "destroy this coroutine" sequence: request
// cancellation and block until the goroutine has actually unwound.
func (t *Task) CancelAndWait() {
	t.cancel()
	<-t.done
}

// Group tracks a set of tasks spawned together (e.g. one per loaded function
// record) so they can all be cancelled on shutdown or on a config reload.
type Group struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
}

// NewGroup returns an empty task Group.
func NewGroup() *Group {
	return &Group{tasks: make(map[uuid.UUID]*Task)}
}

// Add registers t with the group.
func (g *Group) Add(t *Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tasks[t.ID] = t
}

// Remove drops t from the group without cancelling it (used once a task has
// already ended on its own).
func (g *Group) Remove(t *Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tasks, t.ID)
}

// CancelAll cancels and waits for every task currently in the group.
func (g *Group) CancelAll() {
	g.mu.Lock()
	tasks := make([]*Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		tasks = append(tasks, t)
	}
	g.tasks = make(map[uuid.UUID]*Task)
	g.mu.Unlock()

	for _, t := range tasks {
		t.CancelAndWait()
	}
}
