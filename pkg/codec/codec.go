// Package codec provides the pluggable value encodings used when values
// cross a handle or channel boundary.
//
// A Codec must be used consistently on both ends of a channel. The JSON codec
// is a reasonable default for interoperability; the gob codec is more compact
// and handles a wider range of Go types; the protobuf codec is restricted to
// generated proto.Message values.
package codec

import (
	"fmt"
	"io"
)

// Codec serializes values to and from a byte stream.
//
// Implementations must be safe for concurrent use; each Encode or Decode call
// operates on its own stream.
type Codec interface {
	// Encode writes a single value to w.
	Encode(w io.Writer, value any) error

	// Decode reads a single value from r into the pointer value.
	Decode(r io.Reader, value any) error
}

// UnsupportedTypeError is returned by codecs that can only serialize a subset
// of Go types--e.g., the protobuf codec, which requires proto.Message values.
type UnsupportedTypeError struct {
	// Codec is the name of the rejecting codec.
	Codec string

	// Value is the rejected value.
	Value any
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("codec %s cannot serialize value of type %T", e.Codec, e.Value)
}
