package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/conveyor/id"
)

func TestNewCarriesPrefix(t *testing.T) {
	tests := []struct {
		name   string
		prefix id.Prefix
		want   string
	}{
		{"job", id.PrefixJob, "job_"},
		{"worker", id.PrefixWorker, "wkr_"},
		{"lease", id.PrefixLease, "lease_"},
		{"cron", id.PrefixCron, "cron_"},
		{"dead", id.PrefixDead, "dead_"},
		{"feed", id.PrefixFeed, "feed_"},
		{"hook", id.PrefixHook, "hook_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := id.New(tt.prefix)
			if got.IsNil() {
				t.Fatal("New returned nil ID")
			}
			if !strings.HasPrefix(got.String(), tt.want) {
				t.Errorf("expected prefix %q, got %q", tt.want, got.String())
			}
			if got.Prefix() != tt.prefix {
				t.Errorf("Prefix() = %q, want %q", got.Prefix(), tt.prefix)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	original := id.New(id.PrefixJob)
	parsed, err := id.Parse(original.String())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.String() != original.String() {
		t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
	}
}

func TestParseWithPrefix(t *testing.T) {
	jobID := id.New(id.PrefixJob)

	parsed, err := id.ParseWithPrefix(jobID.String(), id.PrefixJob)
	if err != nil {
		t.Fatalf("ParseWithPrefix failed: %v", err)
	}
	if parsed.String() != jobID.String() {
		t.Errorf("mismatch: %q != %q", parsed.String(), jobID.String())
	}

	if _, err := id.ParseWithPrefix(jobID.String(), id.PrefixWorker); err == nil {
		t.Error("expected error parsing job_ ID with worker prefix")
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestTextRoundTrip(t *testing.T) {
	original := id.New(id.PrefixLease)
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var restored id.ID
	if err := restored.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if restored.String() != original.String() {
		t.Errorf("mismatch: %q != %q", restored.String(), original.String())
	}

	var nilID id.ID
	data, err = nilID.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText(nil) failed: %v", err)
	}
	var restored2 id.ID
	if err := restored2.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !restored2.IsNil() {
		t.Error("expected nil after round-trip of nil ID")
	}
}

func TestValueScan(t *testing.T) {
	original := id.New(id.PrefixJob)
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected NULL for nil ID, got %v", val)
	}

	var scanned2 id.ID
	if err := scanned2.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if !scanned2.IsNil() {
		t.Error("expected nil after scan of NULL")
	}
}

func TestUniqueness(t *testing.T) {
	a := id.New(id.PrefixJob)
	b := id.New(id.PrefixJob)
	if a.String() == b.String() {
		t.Errorf("two consecutive New calls returned the same ID: %q", a.String())
	}
}
