// Package monitor runs built workers. A Monitor holds any number of
// workers, each with its own job type, and drives them with concurrent
// poll loops: poll the source, process the request through the worker's
// layered handler, settle the outcome with the source.
//
// Workers are registered before Run and the monitor runs once. Cancel the
// Run context to stop; poll loops exit immediately while in-flight
// deliveries get a drain window to finish.
package monitor

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/hook"
)

// Config holds monitor-wide settings. The zero value is usable; New fills
// in defaults for anything left unset.
type Config struct {
	// Logger receives run-loop logging. Defaults to slog.Default().
	Logger *slog.Logger

	// Hooks is notified of delivery lifecycle events. Defaults to an
	// empty registry.
	Hooks *hook.Registry

	// Governor bounds per-worker throughput. Nil means no limits.
	Governor *Governor

	// DrainTimeout is how long in-flight deliveries may keep running
	// after the run context is cancelled before they are cancelled too.
	DrainTimeout time.Duration
}

// DefaultConfig returns the settings New starts from.
func DefaultConfig() Config {
	return Config{
		Logger:       slog.Default(),
		DrainTimeout: 30 * time.Second,
	}
}

const (
	stateIdle = iota
	stateRunning
	stateStopped
)

// runner is the type-erased face of a registered worker loop. Register
// builds one per worker so the monitor can hold workers of different job
// types side by side.
type runner interface {
	workerName() string
	run(pollCtx, deliveryCtx context.Context) error
}

// Monitor drives registered workers until its run context is cancelled.
type Monitor struct {
	cfg Config

	mu      sync.Mutex
	state   int
	names   map[string]struct{}
	runners []runner
}

// New creates a monitor. Zero fields of cfg take the DefaultConfig values.
func New(cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.Hooks == nil {
		cfg.Hooks = hook.NewRegistry(cfg.Logger)
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	return &Monitor{
		cfg:   cfg,
		names: make(map[string]struct{}),
	}
}

// Workers reports the names of all registered workers, sorted.
func (m *Monitor) Workers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.runners))
	for _, r := range m.runners {
		names = append(names, r.workerName())
	}
	slices.Sort(names)
	return names
}

// add is called by Register once the loop is built.
func (m *Monitor) add(r runner) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateRunning:
		return conveyor.ErrMonitorRunning
	case stateStopped:
		return conveyor.ErrMonitorStopped
	}
	if _, dup := m.names[r.workerName()]; dup {
		return conveyor.ErrWorkerExists
	}
	m.names[r.workerName()] = struct{}{}
	m.runners = append(m.runners, r)
	return nil
}

// Run drives all registered workers until ctx is cancelled, then drains and
// returns. A monitor runs once; a second Run returns ErrMonitorRunning
// while the first is live and ErrMonitorStopped after it returns.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case stateRunning:
		m.mu.Unlock()
		return conveyor.ErrMonitorRunning
	case stateStopped:
		m.mu.Unlock()
		return conveyor.ErrMonitorStopped
	}
	m.state = stateRunning
	runners := slices.Clone(m.runners)
	m.mu.Unlock()

	m.cfg.Logger.Info("monitor starting", slog.Int("workers", len(runners)))

	// Deliveries in flight when ctx is cancelled keep their own context
	// for the drain window, then get cancelled as well.
	deliveryCtx, cancelDeliveries := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDeliveries()

	g := new(errgroup.Group)
	for _, r := range runners {
		g.Go(func() error { return r.run(ctx, deliveryCtx) })
	}

	loopsDone := make(chan struct{})
	go func() {
		select {
		case <-loopsDone:
			return
		case <-ctx.Done():
		}
		t := time.NewTimer(m.cfg.DrainTimeout)
		defer t.Stop()
		select {
		case <-loopsDone:
		case <-t.C:
			m.cfg.Logger.Warn("drain window elapsed, cancelling in-flight deliveries")
			cancelDeliveries()
		}
	}()

	err := g.Wait()
	close(loopsDone)

	m.mu.Lock()
	m.state = stateStopped
	m.mu.Unlock()

	m.cfg.Hooks.EmitShutdown(context.WithoutCancel(ctx))
	m.cfg.Logger.Info("monitor stopped")
	return err
}
