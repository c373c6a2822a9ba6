package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/conveyor/hook"
	"github.com/xraph/conveyor/id"
)

// ──────────────────────────────────────────────────
// Test hooks
// ──────────────────────────────────────────────────

// allEventsHook implements every lifecycle event for testing.
type allEventsHook struct {
	calls []string
}

func (h *allEventsHook) Name() string { return "all-events" }

func (h *allEventsHook) OnJobStarted(_ context.Context, _ string, _ id.ID, _ int) error {
	h.calls = append(h.calls, "OnJobStarted")
	return nil
}

func (h *allEventsHook) OnJobCompleted(_ context.Context, _ string, _ id.ID, _ time.Duration) error {
	h.calls = append(h.calls, "OnJobCompleted")
	return nil
}

func (h *allEventsHook) OnJobFailed(_ context.Context, _ string, _ id.ID, _ int, _ error) error {
	h.calls = append(h.calls, "OnJobFailed")
	return nil
}

func (h *allEventsHook) OnJobRetried(_ context.Context, _ string, _ id.ID, _ int, _ time.Time) error {
	h.calls = append(h.calls, "OnJobRetried")
	return nil
}

func (h *allEventsHook) OnJobDead(_ context.Context, _ string, _ id.ID, _ string) error {
	h.calls = append(h.calls, "OnJobDead")
	return nil
}

func (h *allEventsHook) OnShutdown(_ context.Context) error {
	h.calls = append(h.calls, "OnShutdown")
	return nil
}

// settlementOnlyHook only implements the settlement events.
type settlementOnlyHook struct {
	calls []string
}

func (h *settlementOnlyHook) Name() string { return "settlement-only" }

func (h *settlementOnlyHook) OnJobCompleted(_ context.Context, _ string, _ id.ID, _ time.Duration) error {
	h.calls = append(h.calls, "OnJobCompleted")
	return nil
}

func (h *settlementOnlyHook) OnJobDead(_ context.Context, _ string, _ id.ID, _ string) error {
	h.calls = append(h.calls, "OnJobDead")
	return nil
}

// failingHook returns errors from its events.
type failingHook struct{}

func (h *failingHook) Name() string { return "failing" }

func (h *failingHook) OnJobCompleted(_ context.Context, _ string, _ id.ID, _ time.Duration) error {
	return errors.New("boom")
}

func (h *failingHook) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allEventsHook{}
	r.Register(all)

	if got := len(r.Hooks()); got != 1 {
		t.Fatalf("expected 1 hook, got %d", got)
	}
	if got := r.Hooks()[0].Name(); got != "all-events" {
		t.Fatalf("expected name 'all-events', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allEventsHook{}
	so := &settlementOnlyHook{}
	r.Register(all)
	r.Register(so)

	ctx := context.Background()
	jobID := id.New(id.PrefixJob)

	// Both implement OnJobCompleted.
	r.EmitJobCompleted(ctx, "mailer", jobID, time.Second)
	if len(all.calls) != 1 || all.calls[0] != "OnJobCompleted" {
		t.Fatalf("all: expected [OnJobCompleted], got %v", all.calls)
	}
	if len(so.calls) != 1 || so.calls[0] != "OnJobCompleted" {
		t.Fatalf("so: expected [OnJobCompleted], got %v", so.calls)
	}

	// Only all implements OnJobStarted.
	r.EmitJobStarted(ctx, "mailer", jobID, 1)
	if len(all.calls) != 2 || all.calls[1] != "OnJobStarted" {
		t.Fatalf("all: expected OnJobStarted as 2nd, got %v", all.calls)
	}
	if len(so.calls) != 1 {
		t.Fatalf("so: should still have 1 call, got %v", so.calls)
	}
}

func TestRegistry_AllEventsFire(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allEventsHook{}
	r.Register(all)

	ctx := context.Background()
	jobID := id.New(id.PrefixJob)

	r.EmitJobStarted(ctx, "mailer", jobID, 1)
	r.EmitJobCompleted(ctx, "mailer", jobID, time.Second)
	r.EmitJobFailed(ctx, "mailer", jobID, 1, errors.New("fail"))
	r.EmitJobRetried(ctx, "mailer", jobID, 1, time.Now())
	r.EmitJobDead(ctx, "mailer", jobID, "exhausted")
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobStarted", "OnJobCompleted", "OnJobFailed",
		"OnJobRetried", "OnJobDead", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	failing := &failingHook{}
	all := &allEventsHook{}

	// Register failing first. Both should still be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()
	r.EmitJobCompleted(ctx, "mailer", id.New(id.PrefixJob), time.Second)

	if len(all.calls) != 1 || all.calls[0] != "OnJobCompleted" {
		t.Fatalf("all: expected [OnJobCompleted] despite failing hook, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := hook.NewRegistry(slog.Default())
	ctx := context.Background()
	jobID := id.New(id.PrefixJob)

	// None of these should panic or error.
	r.EmitJobStarted(ctx, "w", jobID, 1)
	r.EmitJobCompleted(ctx, "w", jobID, time.Second)
	r.EmitJobFailed(ctx, "w", jobID, 1, errors.New("x"))
	r.EmitJobRetried(ctx, "w", jobID, 1, time.Now())
	r.EmitJobDead(ctx, "w", jobID, "x")
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleHooksAllNotified(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	h1 := &allEventsHook{}
	h2 := &allEventsHook{}
	r.Register(h1)
	r.Register(h2)

	r.EmitJobStarted(context.Background(), "w", id.New(id.PrefixJob), 1)

	if len(h1.calls) != 1 {
		t.Errorf("h1: expected 1 call, got %d", len(h1.calls))
	}
	if len(h2.calls) != 1 {
		t.Errorf("h2: expected 1 call, got %d", len(h2.calls))
	}
}
