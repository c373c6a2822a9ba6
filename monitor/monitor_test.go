package monitor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/hook"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/monitor"
	"github.com/xraph/conveyor/source"
	"github.com/xraph/conveyor/store/memory"
)

type scanJob struct {
	Path string `json:"path"`
}

// newScanWorker builds a queue-fed worker over a fresh memory store.
func newScanWorker(t *testing.T, handle func(context.Context, *conveyor.Request[scanJob]) (any, error)) (*conveyor.Worker[scanJob], *source.Queue[scanJob], *memory.Store) {
	t.Helper()
	st := memory.New()
	def := job.NewDefinition[scanJob]("scan-path", job.WithQueue("scans"))
	src := source.NewQueue(st, def)
	w := conveyor.AttachSource(conveyor.NewBuilder("scanner"), conveyor.Source[scanJob](src)).
		BuildFunc(handle)
	return w, src, st
}

// runMonitor starts Run on its own goroutine and returns the result channel.
func runMonitor(ctx context.Context, m *monitor.Monitor) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()
	return errc
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for " + msg)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestMonitor_ProcessesQueueJob(t *testing.T) {
	var processed atomic.Bool
	w, src, st := newScanWorker(t, func(_ context.Context, req *conveyor.Request[scanJob]) (any, error) {
		if req.Payload.Path != "/var/log" {
			t.Errorf("payload Path = %q, want %q", req.Payload.Path, "/var/log")
		}
		processed.Store(true)
		return nil, nil
	})

	enq, err := src.Enqueue(context.Background(), scanJob{Path: "/var/log"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	m := monitor.New(monitor.Config{})
	if err := monitor.Register(m, w); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := runMonitor(ctx, m)

	waitFor(t, processed.Load, "job to be processed")

	// Settlement races the processed flag; wait for the store to agree.
	waitFor(t, func() bool {
		got, getErr := st.Get(context.Background(), enq.ID)
		return getErr == nil && got.State == job.StateDone
	}, "job to settle as done")

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestMonitor_ExhaustedJobGoesDead(t *testing.T) {
	var processed atomic.Bool
	w, src, st := newScanWorker(t, func(_ context.Context, _ *conveyor.Request[scanJob]) (any, error) {
		processed.Store(true)
		return nil, errors.New("scanner offline")
	})

	enq, err := src.Enqueue(context.Background(), scanJob{Path: "/tmp"}, job.WithMaxAttempts(1))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	m := monitor.New(monitor.Config{})
	if err := monitor.Register(m, w); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := runMonitor(ctx, m)

	waitFor(t, processed.Load, "job to be processed")
	waitFor(t, func() bool {
		got, getErr := st.Get(context.Background(), enq.ID)
		return getErr == nil && got.State == job.StateDead
	}, "job to settle as dead")

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := st.Get(context.Background(), enq.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastError == "" {
		t.Error("expected LastError to be recorded")
	}
}

func TestMonitor_RunLifecycle(t *testing.T) {
	ch := source.NewChan[string](4)
	processed := make(chan string, 4)
	w := conveyor.AttachSource(conveyor.NewBuilder("echo"), conveyor.Source[string](ch)).
		BuildFunc(func(_ context.Context, req *conveyor.Request[string]) (any, error) {
			processed <- req.Payload
			return nil, nil
		})

	m := monitor.New(monitor.Config{})
	if err := monitor.Register(m, w); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := runMonitor(ctx, m)

	// Prove the monitor is live before poking at it.
	if err := ch.Send(context.Background(), "ping"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-processed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	if err := m.Run(context.Background()); !errors.Is(err, conveyor.ErrMonitorRunning) {
		t.Fatalf("second Run = %v, want ErrMonitorRunning", err)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if err := m.Run(context.Background()); !errors.Is(err, conveyor.ErrMonitorStopped) {
		t.Fatalf("Run after stop = %v, want ErrMonitorStopped", err)
	}
	if err := monitor.Register(m, w); !errors.Is(err, conveyor.ErrMonitorStopped) {
		t.Fatalf("Register after stop = %v, want ErrMonitorStopped", err)
	}
}

func TestMonitor_RegisterDuplicateName(t *testing.T) {
	w1 := conveyor.AttachSource(conveyor.NewBuilder("dup"), conveyor.Source[int](source.NewChan[int](1))).
		BuildFunc(func(_ context.Context, _ *conveyor.Request[int]) (any, error) { return nil, nil })
	w2 := conveyor.AttachSource(conveyor.NewBuilder("dup"), conveyor.Source[string](source.NewChan[string](1))).
		BuildFunc(func(_ context.Context, _ *conveyor.Request[string]) (any, error) { return nil, nil })

	m := monitor.New(monitor.Config{})
	if err := monitor.Register(m, w1); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := monitor.Register(m, w2); !errors.Is(err, conveyor.ErrWorkerExists) {
		t.Fatalf("duplicate Register = %v, want ErrWorkerExists", err)
	}
}

func TestMonitor_ClosedSourceEndsRun(t *testing.T) {
	ch := source.NewChan[string](8)

	var mu sync.Mutex
	var got []string
	w := conveyor.AttachSource(conveyor.NewBuilder("drainer"), conveyor.Source[string](ch)).
		BuildFunc(func(_ context.Context, req *conveyor.Request[string]) (any, error) {
			mu.Lock()
			got = append(got, req.Payload)
			mu.Unlock()
			return nil, nil
		})

	m := monitor.New(monitor.Config{})
	if err := monitor.Register(m, w); err != nil {
		t.Fatalf("Register: %v", err)
	}

	want := []string{"one", "two", "three"}
	for _, p := range want {
		if err := ch.Send(context.Background(), p); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	ch.Close()

	// No cancellation: Run returns once the source reports closed.
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("processed %d payloads, want %d: %v", len(got), len(want), got)
	}
	for i, p := range want {
		if got[i] != p {
			t.Errorf("got[%d] = %q, want %q", i, got[i], p)
		}
	}
}

func TestMonitor_DrainsInFlightDelivery(t *testing.T) {
	ch := source.NewChan[string](1)
	started := make(chan struct{})
	var finished atomic.Bool
	w := conveyor.AttachSource(conveyor.NewBuilder("slow"), conveyor.Source[string](ch)).
		BuildFunc(func(_ context.Context, _ *conveyor.Request[string]) (any, error) {
			close(started)
			time.Sleep(150 * time.Millisecond)
			finished.Store(true)
			return nil, nil
		})

	m := monitor.New(monitor.Config{})
	if err := monitor.Register(m, w); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := runMonitor(ctx, m)

	if err := ch.Send(context.Background(), "work"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handler to start")
	}

	// Cancel mid-delivery; the drain window lets the handler finish.
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !finished.Load() {
		t.Error("expected in-flight delivery to finish during drain")
	}
}

// trackingHook records which lifecycle events fired.
type trackingHook struct {
	started   atomic.Bool
	completed atomic.Bool
	failed    atomic.Bool
	shutdown  atomic.Bool
}

func (h *trackingHook) Name() string { return "tracker" }

func (h *trackingHook) OnJobStarted(_ context.Context, _ string, _ id.ID, _ int) error {
	h.started.Store(true)
	return nil
}

func (h *trackingHook) OnJobCompleted(_ context.Context, _ string, _ id.ID, _ time.Duration) error {
	h.completed.Store(true)
	return nil
}

func (h *trackingHook) OnJobFailed(_ context.Context, _ string, _ id.ID, _ int, _ error) error {
	h.failed.Store(true)
	return nil
}

func (h *trackingHook) OnShutdown(_ context.Context) error {
	h.shutdown.Store(true)
	return nil
}

func TestMonitor_HooksFire(t *testing.T) {
	ch := source.NewChan[string](2)
	w := conveyor.AttachSource(conveyor.NewBuilder("hooked"), conveyor.Source[string](ch)).
		BuildFunc(func(_ context.Context, req *conveyor.Request[string]) (any, error) {
			if req.Payload == "bad" {
				return nil, errors.New("bad payload")
			}
			return nil, nil
		})

	tracker := &trackingHook{}
	hooks := hook.NewRegistry(nil)
	hooks.Register(tracker)

	m := monitor.New(monitor.Config{Hooks: hooks})
	if err := monitor.Register(m, w); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := ch.Send(context.Background(), "good"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ch.Send(context.Background(), "bad"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ch.Close()

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !tracker.started.Load() {
		t.Error("expected OnJobStarted to fire")
	}
	if !tracker.completed.Load() {
		t.Error("expected OnJobCompleted to fire")
	}
	if !tracker.failed.Load() {
		t.Error("expected OnJobFailed to fire")
	}
	if !tracker.shutdown.Load() {
		t.Error("expected OnShutdown to fire")
	}
}

func TestMonitor_GovernorCapsConcurrency(t *testing.T) {
	ch := source.NewChan[int](8)

	var cur, peak atomic.Int32
	w := conveyor.AttachSource(conveyor.NewBuilder("capped"), conveyor.Source[int](ch)).
		BuildFunc(func(_ context.Context, _ *conveyor.Request[int]) (any, error) {
			n := cur.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			cur.Add(-1)
			return nil, nil
		})

	gov := monitor.NewGovernor(monitor.Limit{Worker: "capped", MaxConcurrency: 1})
	m := monitor.New(monitor.Config{Governor: gov})
	err := monitor.Register(m, w,
		monitor.WithConcurrency(3),
		monitor.WithIdle(backoff.NewFixed(5*time.Millisecond)),
	)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := range 6 {
		if err := ch.Send(context.Background(), i); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	ch.Close()

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := peak.Load(); got != 1 {
		t.Errorf("peak concurrency = %d, want 1", got)
	}
	if got := gov.Active("capped"); got != 0 {
		t.Errorf("governor active after run = %d, want 0", got)
	}
}

// leasedSource hands out canned requests and records settlements and lease
// extensions.
type leasedSource struct {
	mu      sync.Mutex
	pending []*conveyor.Request[string]
	acks    []error
	extends int
}

func (s *leasedSource) Poll(_ context.Context) (*conveyor.Request[string], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, conveyor.ErrSourceClosed
	}
	req := s.pending[0]
	s.pending = s.pending[1:]
	return req, nil
}

func (s *leasedSource) Ack(_ context.Context, _ *conveyor.Request[string], _ any, handleErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, handleErr)
	return nil
}

func (s *leasedSource) Extend(_ context.Context, _ *conveyor.Request[string], _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extends++
	return nil
}

func (s *leasedSource) snapshot() (acks []error, extends int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.acks...), s.extends
}

func TestMonitor_KeepAliveExtendsLease(t *testing.T) {
	src := &leasedSource{pending: []*conveyor.Request[string]{
		conveyor.NewRequest("long haul"),
	}}
	w := conveyor.AttachSource(conveyor.NewBuilder("keeper"), conveyor.Source[string](src)).
		BuildFunc(func(_ context.Context, _ *conveyor.Request[string]) (any, error) {
			time.Sleep(100 * time.Millisecond)
			return nil, nil
		})

	m := monitor.New(monitor.Config{})
	err := monitor.Register(m, w, monitor.WithKeepAlive(10*time.Millisecond, time.Minute))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	acks, extends := src.snapshot()
	if extends == 0 {
		t.Error("expected at least one lease extension during the handler")
	}
	if len(acks) != 1 || acks[0] != nil {
		t.Errorf("acks = %v, want one nil settlement", acks)
	}
}

func TestMonitor_Workers(t *testing.T) {
	wb := conveyor.AttachSource(conveyor.NewBuilder("beta"), conveyor.Source[int](source.NewChan[int](1))).
		BuildFunc(func(_ context.Context, _ *conveyor.Request[int]) (any, error) { return nil, nil })
	wa := conveyor.AttachSource(conveyor.NewBuilder("alpha"), conveyor.Source[int](source.NewChan[int](1))).
		BuildFunc(func(_ context.Context, _ *conveyor.Request[int]) (any, error) { return nil, nil })

	m := monitor.New(monitor.Config{})
	if err := monitor.Register(m, wb); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := monitor.Register(m, wa); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got := m.Workers()
	want := []string{"alpha", "beta"}
	if len(got) != len(want) {
		t.Fatalf("Workers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Workers()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
