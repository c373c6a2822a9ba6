package conveyor

import "github.com/xraph/conveyor/id"

// ID is the identifier type for all conveyor entities.
type ID = id.ID

// Prefix names the entity kind encoded in an ID.
type Prefix = id.Prefix
