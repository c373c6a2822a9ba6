package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

type jobModel struct {
	bun.BaseModel `bun:"table:conveyor_jobs"`

	ID          string     `bun:"id,pk"`
	Kind        string     `bun:"kind,notnull"`
	Queue       string     `bun:"queue,notnull,default:'default'"`
	Payload     []byte     `bun:"payload,type:bytea"`
	Codec       string     `bun:"codec,notnull,default:''"`
	State       string     `bun:"state,notnull,default:'pending'"`
	Priority    int        `bun:"priority,notnull,default:0"`
	Attempt     int        `bun:"attempt,notnull,default:0"`
	MaxAttempts int        `bun:"max_attempts,notnull,default:3"`
	LastError   string     `bun:"last_error,notnull,default:''"`
	NotBefore   time.Time  `bun:"not_before,notnull,default:current_timestamp"`
	LeaseID     string     `bun:"lease_id,notnull,default:''"`
	LeaseOwner  string     `bun:"lease_owner,notnull,default:''"`
	LeaseUntil  *time.Time `bun:"lease_until"`
	StartedAt   *time.Time `bun:"started_at"`
	DoneAt      *time.Time `bun:"done_at"`
	Timeout     int64      `bun:"timeout,notnull,default:0"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:          j.ID.String(),
		Kind:        j.Kind,
		Queue:       j.Queue,
		Payload:     j.Payload,
		Codec:       j.Codec,
		State:       string(j.State),
		Priority:    j.Priority,
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		LastError:   j.LastError,
		NotBefore:   j.NotBefore,
		LeaseID:     j.LeaseID.String(),
		LeaseOwner:  j.LeaseOwner,
		LeaseUntil:  j.LeaseUntil,
		StartedAt:   j.StartedAt,
		DoneAt:      j.DoneAt,
		Timeout:     j.Timeout.Nanoseconds(),
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseWithPrefix(m.ID, id.PrefixJob)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: conveyor.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		Kind:        m.Kind,
		Queue:       m.Queue,
		Payload:     m.Payload,
		Codec:       m.Codec,
		State:       job.State(m.State),
		Priority:    m.Priority,
		Attempt:     m.Attempt,
		MaxAttempts: m.MaxAttempts,
		LastError:   m.LastError,
		NotBefore:   m.NotBefore,
		LeaseOwner:  m.LeaseOwner,
		LeaseUntil:  m.LeaseUntil,
		StartedAt:   m.StartedAt,
		DoneAt:      m.DoneAt,
		Timeout:     time.Duration(m.Timeout),
	}

	if m.LeaseID != "" {
		parsedLease, leaseErr := id.ParseWithPrefix(m.LeaseID, id.PrefixLease)
		if leaseErr == nil {
			j.LeaseID = parsedLease
		}
	}
	return j, nil
}
