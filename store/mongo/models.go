package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

type jobModel struct {
	ID          string     `bson:"_id"`
	Kind        string     `bson:"kind"`
	Queue       string     `bson:"queue"`
	Payload     []byte     `bson:"payload"`
	Codec       string     `bson:"codec"`
	State       string     `bson:"state"`
	Priority    int        `bson:"priority"`
	Attempt     int        `bson:"attempt"`
	MaxAttempts int        `bson:"max_attempts"`
	LastError   string     `bson:"last_error"`
	NotBefore   time.Time  `bson:"not_before"`
	LeaseID     string     `bson:"lease_id"`
	LeaseOwner  string     `bson:"lease_owner"`
	LeaseUntil  *time.Time `bson:"lease_until,omitempty"`
	StartedAt   *time.Time `bson:"started_at,omitempty"`
	DoneAt      *time.Time `bson:"done_at,omitempty"`
	Timeout     int64      `bson:"timeout"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
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
		return nil, fmt.Errorf("conveyor/mongo: parse job id %q: %w", m.ID, err)
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
