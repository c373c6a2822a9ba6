package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/middleware"
)

func okHandler(result any) conveyor.Handler[string] {
	return conveyor.HandlerFunc[string](func(_ context.Context, _ *conveyor.Request[string]) (any, error) {
		return result, nil
	})
}

func TestLogging_PassesThrough(t *testing.T) {
	layer := middleware.Logging[string](slog.Default())
	h := layer(okHandler("done"))

	res, err := h.Handle(context.Background(), conveyor.NewRequest("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "done" {
		t.Errorf("result = %v, want %q", res, "done")
	}
}

func TestLogging_PropagatesError(t *testing.T) {
	layer := middleware.Logging[string](slog.Default())
	want := errors.New("handler error")
	h := layer(conveyor.HandlerFunc[string](func(_ context.Context, _ *conveyor.Request[string]) (any, error) {
		return nil, want
	}))

	_, err := h.Handle(context.Background(), conveyor.NewRequest("payload"))
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %v", err, want)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	layer := middleware.Recover[string](slog.Default())
	h := layer(conveyor.HandlerFunc[string](func(_ context.Context, _ *conveyor.Request[string]) (any, error) {
		panic("test panic")
	}))

	req := conveyor.NewRequest("payload")
	res, err := h.Handle(context.Background(), req)
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if res != nil {
		t.Errorf("result = %v, want nil after panic", res)
	}
	want := "panic processing job " + req.ID.String() + ": test panic"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	layer := middleware.Recover[string](slog.Default())
	h := layer(okHandler("fine"))

	res, err := h.Handle(context.Background(), conveyor.NewRequest("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "fine" {
		t.Errorf("result = %v, want %q", res, "fine")
	}
}

func TestTimeout_CancelsSlowHandler(t *testing.T) {
	layer := middleware.Timeout[string](20 * time.Millisecond)
	h := layer(conveyor.HandlerFunc[string](func(ctx context.Context, _ *conveyor.Request[string]) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	_, err := h.Handle(context.Background(), conveyor.NewRequest("payload"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
}

func TestTimeout_DisabledWhenZero(t *testing.T) {
	layer := middleware.Timeout[string](0)
	h := layer(conveyor.HandlerFunc[string](func(ctx context.Context, _ *conveyor.Request[string]) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("zero timeout installed a deadline")
		}
		return nil, nil
	}))

	if _, err := h.Handle(context.Background(), conveyor.NewRequest("payload")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	var calls atomic.Int32
	layer := middleware.Retry[string](3, backoff.NewFixed(0))
	h := layer(conveyor.HandlerFunc[string](func(_ context.Context, _ *conveyor.Request[string]) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("flaky")
		}
		return "eventually", nil
	}))

	res, err := h.Handle(context.Background(), conveyor.NewRequest("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "eventually" {
		t.Errorf("result = %v, want %q", res, "eventually")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("handler ran %d times, want 3", got)
	}
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	var calls atomic.Int32
	layer := middleware.Retry[string](5, backoff.NewFixed(0))
	want := conveyor.Permanent(errors.New("bad input"))
	h := layer(conveyor.HandlerFunc[string](func(_ context.Context, _ *conveyor.Request[string]) (any, error) {
		calls.Add(1)
		return nil, want
	}))

	_, err := h.Handle(context.Background(), conveyor.NewRequest("payload"))
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %v", err, want)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("handler ran %d times, want 1", got)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	layer := middleware.Retry[string](2, backoff.NewFixed(0))
	want := errors.New("always failing")
	h := layer(conveyor.HandlerFunc[string](func(_ context.Context, _ *conveyor.Request[string]) (any, error) {
		calls.Add(1)
		return nil, want
	}))

	_, err := h.Handle(context.Background(), conveyor.NewRequest("payload"))
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %v", err, want)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("handler ran %d times, want 2", got)
	}
}

func TestRateLimit_PassesWithTokens(t *testing.T) {
	layer := middleware.RateLimit[string](rate.NewLimiter(rate.Inf, 1))
	h := layer(okHandler("through"))

	res, err := h.Handle(context.Background(), conveyor.NewRequest("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "through" {
		t.Errorf("result = %v, want %q", res, "through")
	}
}

func TestRateLimit_FailsWithoutBurst(t *testing.T) {
	// A zero-burst finite limiter can never grant a token.
	layer := middleware.RateLimit[string](rate.NewLimiter(1, 0))
	called := false
	h := layer(conveyor.HandlerFunc[string](func(_ context.Context, _ *conveyor.Request[string]) (any, error) {
		called = true
		return nil, nil
	}))

	_, err := h.Handle(context.Background(), conveyor.NewRequest("payload"))
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	if called {
		t.Error("handler ran despite rate limit")
	}
}

func TestLayersComposeThroughStack(t *testing.T) {
	var order []string
	mark := func(name string) conveyor.Layer[string] {
		return func(next conveyor.Handler[string]) conveyor.Handler[string] {
			return conveyor.HandlerFunc[string](func(ctx context.Context, req *conveyor.Request[string]) (any, error) {
				order = append(order, name+"-before")
				res, err := next.Handle(ctx, req)
				order = append(order, name+"-after")
				return res, err
			})
		}
	}

	stack := conveyor.NewStack(
		mark("outer"),
		middleware.Recover[string](slog.Default()),
		mark("inner"),
	)
	h := stack.Then(conveyor.HandlerFunc[string](func(_ context.Context, _ *conveyor.Request[string]) (any, error) {
		order = append(order, "handler")
		panic("inside")
	}))

	_, err := h.Handle(context.Background(), conveyor.NewRequest("payload"))
	if err == nil {
		t.Fatal("expected recovered panic error")
	}

	want := []string{"outer-before", "inner-before", "handler", "outer-after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}
