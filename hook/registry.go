package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/id"
)

// Named entry types pair a hook implementation with the hook name captured
// at registration time. This avoids type-asserting back to Hook inside the
// emit methods.
type startedEntry struct {
	name string
	hook Started
}

type completedEntry struct {
	name string
	hook Completed
}

type failedEntry struct {
	name string
	hook Failed
}

type retriedEntry struct {
	name string
	hook Retried
}

type deadEntry struct {
	name string
	hook Dead
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to them.
// It type-caches hooks at registration time so emit calls iterate only over
// hooks that implement the relevant event.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	// Type-cached slices for each lifecycle event.
	started   []startedEntry
	completed []completedEntry
	failed    []failedEntry
	retried   []retriedEntry
	dead      []deadEntry
	shutdown  []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if e, ok := h.(Started); ok {
		r.started = append(r.started, startedEntry{name, e})
	}
	if e, ok := h.(Completed); ok {
		r.completed = append(r.completed, completedEntry{name, e})
	}
	if e, ok := h.(Failed); ok {
		r.failed = append(r.failed, failedEntry{name, e})
	}
	if e, ok := h.(Retried); ok {
		r.retried = append(r.retried, retriedEntry{name, e})
	}
	if e, ok := h.(Dead); ok {
		r.dead = append(r.dead, deadEntry{name, e})
	}
	if e, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, e})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// EmitJobStarted notifies all hooks that implement Started.
func (r *Registry) EmitJobStarted(ctx context.Context, worker string, jobID id.ID, attempt int) {
	for _, e := range r.started {
		if err := e.hook.OnJobStarted(ctx, worker, jobID, attempt); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all hooks that implement Completed.
func (r *Registry) EmitJobCompleted(ctx context.Context, worker string, jobID id.ID, elapsed time.Duration) {
	for _, e := range r.completed {
		if err := e.hook.OnJobCompleted(ctx, worker, jobID, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all hooks that implement Failed.
func (r *Registry) EmitJobFailed(ctx context.Context, worker string, jobID id.ID, attempt int, jobErr error) {
	for _, e := range r.failed {
		if err := e.hook.OnJobFailed(ctx, worker, jobID, attempt, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRetried notifies all hooks that implement Retried.
func (r *Registry) EmitJobRetried(ctx context.Context, worker string, jobID id.ID, attempt int, retryAt time.Time) {
	for _, e := range r.retried {
		if err := e.hook.OnJobRetried(ctx, worker, jobID, attempt, retryAt); err != nil {
			r.logHookError("OnJobRetried", e.name, err)
		}
	}
}

// EmitJobDead notifies all hooks that implement Dead.
func (r *Registry) EmitJobDead(ctx context.Context, worker string, jobID id.ID, jobErr string) {
	for _, e := range r.dead {
		if err := e.hook.OnJobDead(ctx, worker, jobID, jobErr); err != nil {
			r.logHookError("OnJobDead", e.name, err)
		}
	}
}

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block delivery.
func (r *Registry) logHookError(event, hookName string, err error) {
	r.logger.Warn("lifecycle hook error",
		slog.String("event", event),
		slog.String("hook", hookName),
		slog.String("error", err.Error()),
	)
}
