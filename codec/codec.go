// Package codec provides pluggable value serialization for the cache.
// A Codec only sees the caller's value type; negative-result marking and
// frame validation happen a layer below and are not a codec concern.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
