package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/golang/protobuf/ptypes/wrappers"
)

type testMessage struct {
	Name  string
	Count int
	Tags  []string
}

func TestJSONRoundTrip(t *testing.T) {
	c := JSON()
	in := testMessage{Name: "blob", Count: 3, Tags: []string{"a", "b"}}

	var buf bytes.Buffer
	if err := c.Encode(&buf, in); err != nil {
		t.Fatalf("Encode returned error: %s", err)
	}

	var out testMessage
	if err := c.Decode(&buf, &out); err != nil {
		t.Fatalf("Decode returned error: %s", err)
	}
	if out.Name != in.Name || out.Count != in.Count || len(out.Tags) != 2 {
		t.Errorf("decoded value %+v does not match encoded value %+v", out, in)
	}
}

func TestGobRoundTrip(t *testing.T) {
	c := Gob()
	in := testMessage{Name: "fn", Count: -7, Tags: []string{"x"}}

	var buf bytes.Buffer
	if err := c.Encode(&buf, in); err != nil {
		t.Fatalf("Encode returned error: %s", err)
	}

	var out testMessage
	if err := c.Decode(&buf, &out); err != nil {
		t.Fatalf("Decode returned error: %s", err)
	}
	if out.Name != in.Name || out.Count != in.Count || len(out.Tags) != 1 {
		t.Errorf("decoded value %+v does not match encoded value %+v", out, in)
	}
}

func TestProtobufRoundTrip(t *testing.T) {
	c := Protobuf()
	in := &wrappers.StringValue{Value: "payload"}

	var buf bytes.Buffer
	if err := c.Encode(&buf, in); err != nil {
		t.Fatalf("Encode returned error: %s", err)
	}

	out := &wrappers.StringValue{}
	if err := c.Decode(&buf, out); err != nil {
		t.Fatalf("Decode returned error: %s", err)
	}
	if out.Value != in.Value {
		t.Errorf("decoded value %q does not match encoded value %q", out.Value, in.Value)
	}
}

func TestProtobufDecodeIntoMessagePointer(t *testing.T) {
	c := Protobuf()
	in := &wrappers.Int64Value{Value: 99}

	var buf bytes.Buffer
	if err := c.Encode(&buf, in); err != nil {
		t.Fatalf("Encode returned error: %s", err)
	}

	// Generic wrappers decode into a pointer to the message pointer.
	var out *wrappers.Int64Value
	if err := c.Decode(&buf, &out); err != nil {
		t.Fatalf("Decode returned error: %s", err)
	}
	if out == nil || out.Value != 99 {
		t.Errorf("decoded value %v; expected Int64Value{99}", out)
	}
}

func TestProtobufRejectsPlainValues(t *testing.T) {
	c := Protobuf()

	var buf bytes.Buffer
	err := c.Encode(&buf, testMessage{Name: "nope"})

	var ute *UnsupportedTypeError
	if !errors.As(err, &ute) {
		t.Fatalf("Encode returned %v; expected *UnsupportedTypeError", err)
	}
	if ute.Codec != "protobuf" {
		t.Errorf("UnsupportedTypeError names codec %q; expected \"protobuf\"", ute.Codec)
	}
}
