package conveyor

import "time"

// Entity carries the timestamps every persisted record shares. Stores set
// UpdatedAt on every write; CreatedAt is fixed at construction.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity with both timestamps set to now (UTC).
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch updates UpdatedAt to now (UTC).
func (e *Entity) Touch() { e.UpdatedAt = time.Now().UTC() }
