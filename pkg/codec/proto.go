package codec

import (
	"io"
	"reflect"

	"github.com/golang/protobuf/proto"
)

type protobufCodec struct{}

// Protobuf returns a Codec that serializes protobuf messages. Values passed
// to Encode must implement proto.Message; values passed to Decode must be
// pointers to proto.Message implementations. Other values are rejected with
// an UnsupportedTypeError.
func Protobuf() Codec {
	return protobufCodec{}
}

func (protobufCodec) Encode(w io.Writer, value any) error {
	m, ok := value.(proto.Message)
	if !ok {
		return &UnsupportedTypeError{Codec: "protobuf", Value: value}
	}
	b, err := proto.Marshal(m)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func (protobufCodec) Decode(r io.Reader, value any) error {
	m, ok := value.(proto.Message)
	if !ok {
		// Generic callers pass a pointer to a message pointer; allocate the
		// message if needed and decode into it.
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Ptr {
			return &UnsupportedTypeError{Codec: "protobuf", Value: value}
		}
		elem := rv.Elem()
		if elem.IsNil() {
			elem.Set(reflect.New(elem.Type().Elem()))
		}
		if m, ok = elem.Interface().(proto.Message); !ok {
			return &UnsupportedTypeError{Codec: "protobuf", Value: value}
		}
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return proto.Unmarshal(b, m)
}

func (protobufCodec) String() string {
	return "protobuf"
}
