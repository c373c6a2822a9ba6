package job_test

import (
	"testing"
	"time"

	"github.com/xraph/conveyor/codec"
	"github.com/xraph/conveyor/job"
)

func TestNew_Defaults(t *testing.T) {
	j := job.New("reindex", []byte(`{}`))

	if j.ID.IsNil() {
		t.Error("expected non-nil ID")
	}
	if j.State != job.StatePending {
		t.Errorf("State = %q, want %q", j.State, job.StatePending)
	}
	if j.Queue != "default" {
		t.Errorf("Queue = %q, want %q", j.Queue, "default")
	}
	if j.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", j.MaxAttempts)
	}
	if j.Attempt != 0 {
		t.Errorf("Attempt = %d, want 0", j.Attempt)
	}
	if j.NotBefore.IsZero() {
		t.Error("NotBefore should default to creation time")
	}
}

func TestNew_Options(t *testing.T) {
	runAt := time.Now().UTC().Add(time.Hour)
	j := job.New("reindex", nil,
		job.WithQueue("search"),
		job.WithPriority(7),
		job.WithMaxAttempts(10),
		job.WithNotBefore(runAt),
		job.WithTimeout(30*time.Second),
		job.WithCodec(codec.NameMsgpack),
	)

	if j.Queue != "search" {
		t.Errorf("Queue = %q, want %q", j.Queue, "search")
	}
	if j.Priority != 7 {
		t.Errorf("Priority = %d, want 7", j.Priority)
	}
	if j.MaxAttempts != 10 {
		t.Errorf("MaxAttempts = %d, want 10", j.MaxAttempts)
	}
	if !j.NotBefore.Equal(runAt) {
		t.Errorf("NotBefore = %v, want %v", j.NotBefore, runAt)
	}
	if j.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", j.Timeout)
	}
	if j.Codec != codec.NameMsgpack {
		t.Errorf("Codec = %q, want %q", j.Codec, codec.NameMsgpack)
	}
}

func TestState_Terminal(t *testing.T) {
	tests := []struct {
		state job.State
		want  bool
	}{
		{job.StatePending, false},
		{job.StateActive, false},
		{job.StateRetry, false},
		{job.StateDone, true},
		{job.StateDead, true},
		{job.StateCanceled, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestGrant_LeaseBookkeeping(t *testing.T) {
	j := job.New("work", nil)
	until := time.Now().UTC().Add(time.Minute)

	j.Grant("worker-1", until)

	if j.State != job.StateActive {
		t.Errorf("State = %q, want %q", j.State, job.StateActive)
	}
	if j.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", j.Attempt)
	}
	if j.LeaseID.IsNil() {
		t.Error("expected lease ID")
	}
	if j.LeaseOwner != "worker-1" {
		t.Errorf("LeaseOwner = %q, want %q", j.LeaseOwner, "worker-1")
	}
	if j.StartedAt == nil {
		t.Error("expected StartedAt")
	}

	now := time.Now().UTC()
	if !j.Leased(now) {
		t.Error("expected live lease")
	}
	if j.LeaseExpired(now) {
		t.Error("lease should not be expired")
	}
	if j.LeaseExpired(until.Add(time.Second)) != true {
		t.Error("lease should be expired after until")
	}

	first := j.LeaseID
	j.Grant("worker-2", until.Add(time.Minute))
	if j.LeaseID == first {
		t.Error("regrant should mint a fresh lease ID")
	}
	if j.Attempt != 2 {
		t.Errorf("Attempt = %d after regrant, want 2", j.Attempt)
	}
}

func TestClearLease(t *testing.T) {
	j := job.New("work", nil)
	j.Grant("worker-1", time.Now().UTC().Add(time.Minute))

	j.ClearLease()

	if !j.LeaseID.IsNil() {
		t.Error("expected nil lease ID")
	}
	if j.LeaseOwner != "" {
		t.Errorf("LeaseOwner = %q, want empty", j.LeaseOwner)
	}
	if j.LeaseUntil != nil {
		t.Error("expected nil LeaseUntil")
	}
}

func TestAttemptsLeft(t *testing.T) {
	j := job.New("work", nil, job.WithMaxAttempts(2))
	if !j.AttemptsLeft() {
		t.Error("fresh job should have attempts left")
	}

	until := time.Now().UTC().Add(time.Minute)
	j.Grant("w", until)
	if !j.AttemptsLeft() {
		t.Error("one delivery in, one left")
	}
	j.Grant("w", until)
	if j.AttemptsLeft() {
		t.Error("budget exhausted after two deliveries")
	}
}

func TestDefinition_EncodeDecode(t *testing.T) {
	type report struct {
		Month string `json:"month" msgpack:"month"`
		Rows  int    `json:"rows" msgpack:"rows"`
	}

	for _, name := range []string{codec.NameJSON, codec.NameMsgpack} {
		t.Run(name, func(t *testing.T) {
			def := job.NewDefinition[report]("monthly-report", job.WithCodec(name))

			j, err := def.Encode(report{Month: "2026-08", Rows: 12})
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			if j.Kind != "monthly-report" {
				t.Errorf("Kind = %q, want %q", j.Kind, "monthly-report")
			}
			if j.Codec != name {
				t.Errorf("Codec = %q, want %q", j.Codec, name)
			}

			got, err := def.Decode(j)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if got.Month != "2026-08" || got.Rows != 12 {
				t.Errorf("decoded = %+v", got)
			}
		})
	}
}

func TestDefinition_EncodeOverrides(t *testing.T) {
	def := job.NewDefinition[struct{}]("nightly", job.WithQueue("batch"), job.WithPriority(1))

	j, err := def.Encode(struct{}{}, job.WithPriority(9))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if j.Queue != "batch" {
		t.Errorf("Queue = %q, want definition default %q", j.Queue, "batch")
	}
	if j.Priority != 9 {
		t.Errorf("Priority = %d, want per-job override 9", j.Priority)
	}
}

func TestDefinition_DecodeWrongKind(t *testing.T) {
	def := job.NewDefinition[struct{}]("expected")
	j := job.New("other", nil)
	if _, err := def.Decode(j); err == nil {
		t.Fatal("expected kind mismatch error")
	}
}
