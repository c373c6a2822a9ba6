package job

import (
	"context"
	"fmt"

	"github.com/xraph/conveyor/codec"
)

// Definition binds a kind name to a payload type and enqueue defaults.
// T must be serializable by the definition's codec.
type Definition[T any] struct {
	// Kind uniquely identifies this job type.
	Kind string

	// Opts are the defaults applied at enqueue time.
	Opts Options
}

// NewDefinition creates a typed kind definition.
func NewDefinition[T any](kind string, opts ...Option) *Definition[T] {
	def := &Definition[T]{Kind: kind, Opts: DefaultOptions()}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

func (d *Definition[T]) codec() codec.Codec {
	return codec.ByName(d.Opts.Codec)
}

// Encode builds a pending job record carrying the encoded payload. Extra
// options override the definition's defaults for this one job.
func (d *Definition[T]) Encode(payload T, opts ...Option) (*Job, error) {
	data, err := d.codec().Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("conveyor/job: encode %q payload: %w", d.Kind, err)
	}

	merged := make([]Option, 0, len(opts)+1)
	merged = append(merged, func(o *Options) { *o = d.Opts })
	merged = append(merged, opts...)
	return New(d.Kind, data, merged...), nil
}

// Decode extracts the typed payload from a job record of this kind.
func (d *Definition[T]) Decode(j *Job) (T, error) {
	var payload T
	if j.Kind != d.Kind {
		return payload, fmt.Errorf("conveyor/job: decode: record is %q, definition is %q", j.Kind, d.Kind)
	}
	if len(j.Payload) == 0 {
		return payload, nil
	}
	if err := codec.ByName(j.Codec).Unmarshal(j.Payload, &payload); err != nil {
		return payload, fmt.Errorf("conveyor/job: decode %q payload: %w", d.Kind, err)
	}
	return payload, nil
}

// Enqueue encodes payload under def and persists it through s. It is a
// package-level generic function because Go does not allow generic methods
// on non-generic receiver types.
func Enqueue[T any](ctx context.Context, s Store, def *Definition[T], payload T, opts ...Option) (*Job, error) {
	j, err := def.Encode(payload, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Enqueue(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}
