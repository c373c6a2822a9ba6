// Package codec abstracts payload serialization. Stores persist job payloads
// as bytes and the feed server frames messages on the wire; both pick a codec
// by name so peers and backends can negotiate a format.
package codec

// Codec converts values to and from bytes.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error

	// Name returns the codec identifier used in negotiation ("json", "msgpack").
	Name() string
}

// Codec names for format negotiation.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Default is the codec used when none is configured.
var Default Codec = JSON{}

// ByName returns the codec for name. Unknown or empty names fall back to JSON.
func ByName(name string) Codec {
	switch name {
	case NameMsgpack:
		return Msgpack{}
	default:
		return JSON{}
	}
}
