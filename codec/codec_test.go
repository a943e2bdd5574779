package codec

import (
	"errors"
	"testing"
	"time"
)

func TestGet(t *testing.T) {
	for name := range Codecs {
		c, err := Get(name)
		if err != nil {
			t.Errorf("%s: unexpected error: %s", name, err)
		}
		if c.Name() != name {
			t.Errorf("expected name %q, got %q", name, c.Name())
		}
		if _, ok := Mimes[name]; !ok {
			t.Errorf("%s: no mime registered", name)
		}
	}

	_, err := Get("xml")
	if !errors.Is(err, ErrCodecNotRegistered) {
		t.Errorf("expected ErrCodecNotRegistered, got %v", err)
	}
}

func TestBinaryCodec(t *testing.T) {
	_, err := Binary.Marshal("foo")
	if err == nil {
		t.Error("expected error for non-byte value")
	}

	var s string
	err = Binary.Unmarshal([]byte("foo"), &s)
	if err == nil {
		t.Error("expected error for non-byte target")
	}

	b, err := Binary.Marshal([]byte("foo"))
	if err != nil {
		t.Fatal(err)
	}

	// Ensure unmarshal resets the slice and performs a copy
	// to prevent unexpected byte changes from the source slice.
	x := []byte("barr")
	if err := Binary.Unmarshal(b, &x); err != nil {
		t.Fatal(err)
	}
	if string(x) != "foo" {
		t.Errorf("expected foo, got %s", x)
	}

	b[0] = 'b'
	if string(x) != "foo" {
		t.Error("unmarshaled slice aliases the source")
	}
}

func TestProtoBufCodecRequiresMessage(t *testing.T) {
	if _, err := ProtoBuf.Marshal("foo"); err == nil {
		t.Error("expected error for non-proto value")
	}

	var s string
	if err := ProtoBuf.Unmarshal([]byte{}, &s); err == nil {
		t.Error("expected error for non-proto target")
	}
}

func BenchmarkMsgPackMarshal(b *testing.B) {
	type T struct {
		String string
		Int    int
		Bool   bool
		Float  float32
		Struct *T
		Time   time.Time
		Bytes  []byte
	}

	v1 := &T{
		String: "foo",
		Int:    5,
		Bool:   true,
		Float:  1.4,
		Struct: &T{
			Int: 10,
		},
		Time:  time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC),
		Bytes: []byte(`{"foo": "bar", "baz": 3.4}`),
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		MsgPack.Marshal(v1)
	}
}

func BenchmarkMsgPackUnmarshal(b *testing.B) {
	type T struct {
		String string
		Int    int
		Bool   bool
		Float  float32
		Struct *T
		Time   time.Time
		Bytes  []byte
	}

	v1 := &T{
		String: "foo",
		Int:    5,
	}

	y, _ := MsgPack.Marshal(v1)
	var v2 T

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		MsgPack.Unmarshal(y, &v2)
	}
}
