package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack marshals values as MessagePack. It is denser than JSON and the
// preferred framing for feed connections between trusted peers.
type Msgpack struct{}

func (Msgpack) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (Msgpack) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

func (Msgpack) Name() string { return NameMsgpack }
