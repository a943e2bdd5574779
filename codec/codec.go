package codec

import (
	"errors"
	"fmt"
)

var (
	ErrCodecNotRegistered = errors.New("cebus: codec not registered")

	// Default codec used when none is named explicitly.
	Default = JSON

	// Codecs indexes the built-in codecs by name. The name is recorded
	// alongside encoded payloads so the receiving side can decode with
	// the same codec.
	Codecs = map[string]Codec{
		"json":     JSON,
		"msgpack":  MsgPack,
		"protobuf": ProtoBuf,
		"binary":   Binary,
	}

	// Mimes maps codec names to the media type reported for payloads
	// they encode.
	Mimes = map[string]string{
		"json":     "application/json",
		"msgpack":  "application/msgpack",
		"protobuf": "application/protobuf",
		"binary":   "application/octet-stream",
	}
)

// Get returns the codec registered under name.
func Get(name string) (Codec, error) {
	c, ok := Codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCodecNotRegistered, name)
	}
	return c, nil
}

// Codec encodes and decodes payload values for crossing a process or
// storage boundary.
type Codec interface {
	Name() string
	Marshal(interface{}) ([]byte, error)
	Unmarshal([]byte, interface{}) error
}
