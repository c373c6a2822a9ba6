package job

import (
	"fmt"
	"sync"
)

// DecodeFunc is a type-erased payload decoder. The typed Definition[T] is
// converted to a DecodeFunc at registration time by closing over the codec
// lookup and the concrete payload type.
type DecodeFunc func(j *Job) (any, error)

// Entry is what the registry holds for one kind: enqueue defaults plus a
// decoder usable without the payload type.
type Entry struct {
	Kind   string
	Opts   Options
	Decode DecodeFunc
}

// Registry maps kind names to type-erased entries. Components that handle
// records generically (the dead set replayer, feed servers) look kinds up
// here. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// RegisterDefinition adds a typed definition to the registry, wrapping its
// decoder in a closure over T. This is a package-level generic function
// because Go does not allow generic methods on non-generic receiver types.
// Registering the same kind twice replaces the earlier entry.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	entry := Entry{
		Kind: def.Kind,
		Opts: def.Opts,
		Decode: func(j *Job) (any, error) {
			payload, err := def.Decode(j)
			if err != nil {
				return nil, err
			}
			return payload, nil
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Kind] = entry
}

// Get returns the entry for kind, or false when the kind is unknown.
func (r *Registry) Get(kind string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[kind]
	return e, ok
}

// Decode looks kind up and decodes the record's payload with it.
func (r *Registry) Decode(j *Job) (any, error) {
	e, ok := r.Get(j.Kind)
	if !ok {
		return nil, fmt.Errorf("conveyor/job: no definition registered for kind %q", j.Kind)
	}
	return e.Decode(j)
}

// Kinds returns all registered kind names.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.entries))
	for kind := range r.entries {
		kinds = append(kinds, kind)
	}
	return kinds
}
