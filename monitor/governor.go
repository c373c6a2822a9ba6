package monitor

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limit bounds one worker's throughput.
type Limit struct {
	// Worker is the worker name the limit applies to.
	Worker string

	// MaxConcurrency caps how many deliveries for this worker may be in
	// flight at once across the monitor's poll loops. Zero means no cap
	// beyond the worker's configured loop count.
	MaxConcurrency int

	// Rate is the maximum sustained deliveries per second. Zero disables
	// rate limiting.
	Rate float64

	// Burst is the token-bucket burst size. Defaults to 1 when Rate is
	// set and Burst is zero.
	Burst int
}

// governed tracks runtime state for one limited worker.
type governed struct {
	limit   Limit
	limiter *rate.Limiter
	active  int
}

func newGoverned(l Limit) *governed {
	g := &governed{limit: l}
	if l.Rate > 0 {
		burst := l.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(l.Rate), burst)
	}
	return g
}

// Governor enforces per-worker rate limits and concurrency caps. Poll
// loops call Acquire before polling and Release when the delivery is done.
// Workers without a limit always pass. Safe for concurrent use.
type Governor struct {
	mu      sync.Mutex
	workers map[string]*governed
}

// NewGovernor creates a governor with the given limits. Workers not listed
// are unlimited.
func NewGovernor(limits ...Limit) *Governor {
	g := &Governor{workers: make(map[string]*governed, len(limits))}
	for _, l := range limits {
		g.workers[l.Worker] = newGoverned(l)
	}
	return g
}

// Acquire reports whether the worker may start another delivery. On true
// the active count is incremented and the caller must Release when the
// delivery completes.
func (g *Governor) Acquire(worker string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	gov := g.workers[worker]
	if gov == nil {
		return true
	}
	// Concurrency first: a full worker must not burn rate tokens.
	if gov.limit.MaxConcurrency > 0 && gov.active >= gov.limit.MaxConcurrency {
		return false
	}
	if gov.limiter != nil && !gov.limiter.Allow() {
		return false
	}
	gov.active++
	return true
}

// Release returns a delivery slot acquired for the worker.
func (g *Governor) Release(worker string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if gov := g.workers[worker]; gov != nil && gov.active > 0 {
		gov.active--
	}
}

// SetLimit updates (or installs) a worker's limit. The current active
// count carries over.
func (g *Governor) SetLimit(l Limit) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := newGoverned(l)
	if existing := g.workers[l.Worker]; existing != nil {
		next.active = existing.active
	}
	g.workers[l.Worker] = next
}

// Active reports the worker's current in-flight delivery count.
func (g *Governor) Active(worker string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if gov := g.workers[worker]; gov != nil {
		return gov.active
	}
	return 0
}
