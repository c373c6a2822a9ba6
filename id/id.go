// Package id provides TypeID-based identifiers for conveyor entities.
//
// An ID is a prefix-qualified TypeID in the form "prefix_suffix": globally
// unique, K-sortable (UUIDv7 suffix), and URL-safe. The prefix names the
// entity kind so a bare string in a log line or a database row is
// self-describing.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the entity kind encoded in an ID.
type Prefix string

// Prefixes for every conveyor entity.
const (
	PrefixJob    Prefix = "job"
	PrefixWorker Prefix = "wkr"
	PrefixLease  Prefix = "lease"
	PrefixCron   Prefix = "cron"
	PrefixDead   Prefix = "dead"
	PrefixFeed   Prefix = "feed"
	PrefixHook   Prefix = "hook"
)

// ID is a prefix-qualified unique identifier.
//
//nolint:recvcheck // Read methods take value receivers; UnmarshalText and Scan need pointers.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero ID. It marshals to the empty string and stores as NULL.
var Nil ID

// New generates a fresh ID under the given prefix. It panics when the
// prefix is not a legal TypeID prefix, which is a programming error.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: bad prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse converts a string such as "job_01h2xcejqtf2nbrexx3vqjhp41" to an ID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and rejects it when the prefix differs from want.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != want {
		return Nil, fmt.Errorf("id: want prefix %q, got %q", want, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is Parse for hardcoded values; it panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// String returns the "prefix_suffix" form, or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix component, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether the ID is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}
	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil stores as NULL so optional ID columns
// stay nullable.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL is the point
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
