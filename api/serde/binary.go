package serde

// BinarySerde serializes values for the wire and the KV buckets. The whole
// core is serialization-agnostic: everything goes through this interface.
type BinarySerde interface {
	SerializeBinary(value any) ([]byte, error)
	DeserializeBinary(data []byte, valuePtr any) error
}
