package codec

import (
	"encoding/gob"
	"io"
)

type gobCodec struct{}

// Gob returns a Codec that serializes values with encoding/gob. Gob streams
// are self-describing, so no length prefix or framing is required around an
// encoded value.
func Gob() Codec {
	return gobCodec{}
}

func (gobCodec) Encode(w io.Writer, value any) error {
	return gob.NewEncoder(w).Encode(value)
}

func (gobCodec) Decode(r io.Reader, value any) error {
	return gob.NewDecoder(r).Decode(value)
}

func (gobCodec) String() string {
	return "gob"
}
