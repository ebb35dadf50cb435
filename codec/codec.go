// Package codec provides the serialization layer shared by the unary RPCs
// and the timeline post stream.
//
// It defines a pluggable Codec interface with two implementations:
//   - JSONCodec:   human-readable, easy to debug, slower
//   - BinaryCodec: compact length-prefixed binary format, faster
//
// The codec type is stored in the protocol frame header so the receiver
// knows which codec to use for deserialization — a client picks one per
// connection and the server mirrors it back.
package codec

// CodecType identifies the serialization format, stored as 1 byte in the frame header.
type CodecType byte

const (
	CodecTypeJSON   CodecType = 0 // JSON serialization (encoding/json)
	CodecTypeBinary CodecType = 1 // Custom binary serialization
)

// Codec is the interface for serialization/deserialization.
// Implementing it allows adding new formats without changing any other
// layer.
type Codec interface {
	Encode(v any) ([]byte, error)    // Serialize a struct to bytes
	Decode(data []byte, v any) error // Deserialize bytes back to a struct
	Type() CodecType                 // Return the codec type identifier
}

// GetCodec is a factory function that returns the appropriate codec by type.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}
	return &BinaryCodec{}
}
