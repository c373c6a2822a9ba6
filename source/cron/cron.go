// Package cron provides a schedule-driven Source. Entries pair a cron
// expression with a payload builder; Poll yields one request per due tick
// and (nil, nil) between ticks.
//
// The source is purely local. Ticks that pass while nobody polls collapse
// into a single firing at the next Poll, so a stalled worker catches up with
// one request instead of a burst.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression into a schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// BuildFunc produces the payload for one firing. tick is the scheduled time
// the entry fired for, which trails the wall clock when polls are sparse.
type BuildFunc[T any] func(tick time.Time) (T, error)

type entry[T any] struct {
	name  string
	sched cronlib.Schedule
	build BuildFunc[T]
	next  time.Time
}

type config struct {
	clock  func() time.Time
	logger *slog.Logger
}

// Option configures a Source.
type Option func(*config)

// WithClock sets the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *config) { c.clock = clock }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// Source fires requests on cron schedules. Entries are evaluated lazily at
// Poll time; no goroutine runs between polls.
type Source[T any] struct {
	cfg config

	mu      sync.Mutex
	entries []*entry[T]
}

var _ conveyor.Source[struct{}] = (*Source[struct{}])(nil)

// New creates an empty cron source.
func New[T any](opts ...Option) *Source[T] {
	cfg := config{
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Source[T]{cfg: cfg}
}

// Add registers an entry under a cron expression. The first firing is the
// expression's next activation after now, never immediately.
func (s *Source[T]) Add(name, expr string, build BuildFunc[T]) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return fmt.Errorf("conveyor/source/cron: parse %q schedule %q: %w", name, expr, err)
	}
	s.AddSchedule(name, sched, build)
	return nil
}

// AddSchedule registers an entry under an already-parsed schedule.
func (s *Source[T]) AddSchedule(name string, sched cronlib.Schedule, build BuildFunc[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &entry[T]{
		name:  name,
		sched: sched,
		build: build,
		next:  sched.Next(s.cfg.clock()),
	})
}

// Poll fires the longest-overdue entry, or returns (nil, nil) when no entry
// is due. Each firing carries a fresh cron-prefixed ID and a single-attempt
// budget: a failed tick is superseded by the next one, not retried.
func (s *Source[T]) Poll(ctx context.Context) (*conveyor.Request[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	now := s.cfg.clock()
	var due *entry[T]
	for _, e := range s.entries {
		if e.next.After(now) {
			continue
		}
		if due == nil || e.next.Before(due.next) {
			due = e
		}
	}
	if due == nil {
		s.mu.Unlock()
		return nil, nil
	}

	tick := due.next
	// Next(now), not Next(tick): missed ticks collapse into this firing.
	due.next = due.sched.Next(now)
	name := due.name
	build := due.build
	s.mu.Unlock()

	payload, err := build(tick)
	if err != nil {
		return nil, fmt.Errorf("conveyor/source/cron: build %q payload: %w", name, err)
	}

	s.cfg.logger.Info("cron fired",
		slog.String("entry", name),
		slog.Time("tick", tick),
	)

	return &conveyor.Request[T]{
		ID:          id.New(id.PrefixCron),
		Payload:     payload,
		Attempt:     1,
		MaxAttempts: 1,
		EnqueuedAt:  tick,
	}, nil
}

// Ticks is a convenience source whose payload is the tick time itself.
func Ticks(expr string, opts ...Option) (*Source[time.Time], error) {
	s := New[time.Time](opts...)
	if err := s.Add("tick", expr, func(t time.Time) (time.Time, error) {
		return t, nil
	}); err != nil {
		return nil, err
	}
	return s, nil
}
