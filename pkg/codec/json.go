package codec

import (
	"encoding/json"
	"io"
)

type jsonCodec struct{}

// JSON returns a Codec that serializes values as JSON documents.
func JSON() Codec {
	return jsonCodec{}
}

func (jsonCodec) Encode(w io.Writer, value any) error {
	return json.NewEncoder(w).Encode(value)
}

func (jsonCodec) Decode(r io.Reader, value any) error {
	return json.NewDecoder(r).Decode(value)
}

func (jsonCodec) String() string {
	return "json"
}
