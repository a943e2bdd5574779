package cebus

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"

	"github.com/cebus-io/cebus/codec"
)

var (
	ErrTypeNotValid      = errors.New("cebus: type not valid")
	ErrTypeNotRegistered = errors.New("cebus: type not registered")
	ErrNoTypeForStruct   = errors.New("cebus: no type for struct")

	// Event type names are dot-delimited word segments,
	// e.g. "guild.member.joined".
	typeNameRegex = regexp.MustCompile(`^[\w-]+(\.[\w-]+)*$`)
)

func validateTypeName(n string) error {
	if !typeNameRegex.MatchString(n) {
		return fmt.Errorf("%w: name %q has invalid characters", ErrTypeNotValid, n)
	}
	return nil
}

// PayloadType declares how to initialize a payload value for one
// envelope type.
type PayloadType struct {
	Init func() any
}

type registryOption func(o *TypeRegistry) error

func (f registryOption) addOption(o *TypeRegistry) error {
	return f(o)
}

// RegistryOption models an option when creating a type registry.
type RegistryOption interface {
	addOption(o *TypeRegistry) error
}

// Codec is a registry option to define the desired payload codec.
func Codec(name string) RegistryOption {
	return registryOption(func(o *TypeRegistry) error {
		c, err := codec.Get(name)
		if err != nil {
			return err
		}
		o.codec = c
		o.codecMime = codec.Mimes[name]
		return nil
	})
}

// TypeRegistry maps envelope type discriminants to native payload
// types so encoded payloads can be decoded into registered Go values
// at a process boundary. Registration validates each type up front;
// after construction the registry is read-only and safe for concurrent
// use.
type TypeRegistry struct {
	codec     codec.Codec
	codecMime string

	// Index of payload types by envelope type name.
	types map[string]*PayloadType

	// Reflection type to the envelope type name.
	rtypes map[reflect.Type]string
}

// Codec returns the payload codec the registry encodes with.
func (r *TypeRegistry) Codec() codec.Codec {
	return r.codec
}

// Mime returns the media type of encoded payloads, suitable for an
// envelope's datacontenttype attribute.
func (r *TypeRegistry) Mime() string {
	return r.codecMime
}

func (r *TypeRegistry) validate(name string, typ *PayloadType) error {
	if name == "" {
		return fmt.Errorf("%w: missing name", ErrTypeNotValid)
	}

	if err := validateTypeName(name); err != nil {
		return err
	}

	if typ.Init == nil {
		return fmt.Errorf("%w: %s: init func is nil", ErrTypeNotValid, name)
	}

	v := typ.Init()
	if v == nil {
		return fmt.Errorf("%w: %s: init func returns nil", ErrTypeNotValid, name)
	}

	// Deserialization needs a pointer to a struct to decode into.
	rt := reflect.TypeOf(v)
	if rt.Kind() != reflect.Ptr {
		return fmt.Errorf("%w: %s: init func must return a pointer value", ErrTypeNotValid, name)
	}
	if rt.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: %s: value type must be a struct", ErrTypeNotValid, name)
	}

	// Catch payload types the codec cannot handle at registration
	// rather than at publish time.
	b, err := r.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: failed to marshal with codec: %s", ErrTypeNotValid, name, err)
	}

	err = r.codec.Unmarshal(b, v)
	if err != nil {
		return fmt.Errorf("%w: %s: failed to unmarshal with codec: %s", ErrTypeNotValid, name, err)
	}

	return nil
}

func (r *TypeRegistry) addType(name string, typ *PayloadType) {
	r.types[name] = typ

	// Initialize a value, reflect the type to index.
	v := typ.Init()
	rt := reflect.TypeOf(v)

	r.rtypes[rt] = name
	r.rtypes[rt.Elem()] = name
}

// Init initializes a payload value given the envelope type name.
func (r *TypeRegistry) Init(t string) (any, error) {
	x, ok := r.types[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotRegistered, t)
	}
	return x.Init(), nil
}

// Lookup returns the envelope type name registered for a value.
func (r *TypeRegistry) Lookup(v any) (string, error) {
	rt := reflect.TypeOf(v)
	t, ok := r.rtypes[rt]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoTypeForStruct, rt)
	}
	return t, nil
}

// Marshal serializes a registered payload value to a byte slice.
func (r *TypeRegistry) Marshal(v any) ([]byte, error) {
	_, err := r.Lookup(v)
	if err != nil {
		return nil, err
	}

	b, err := r.codec.Marshal(v)
	if err != nil {
		return b, fmt.Errorf("%T: marshal error: %w", v, err)
	}
	return b, nil
}

// Unmarshal deserializes a byte slice into a registered payload value.
func (r *TypeRegistry) Unmarshal(b []byte, v any) error {
	_, err := r.Lookup(v)
	if err != nil {
		return err
	}

	err = r.codec.Unmarshal(b, v)
	if err != nil {
		return fmt.Errorf("%T: unmarshal error: %w", v, err)
	}
	return nil
}

// MarshalData encodes a registered payload value and returns the bytes
// together with the media type for an envelope's datacontenttype
// attribute.
func (r *TypeRegistry) MarshalData(v any) ([]byte, string, error) {
	b, err := r.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	return b, r.codecMime, nil
}

// UnmarshalType initializes a new payload value for the envelope type,
// unmarshals the byte slice into it, and returns it.
func (r *TypeRegistry) UnmarshalType(b []byte, t string) (any, error) {
	v, err := r.Init(t)
	if err != nil {
		return nil, err
	}
	if err := r.Unmarshal(b, v); err != nil {
		return nil, err
	}
	return v, nil
}

// NewTypeRegistry builds a registry from a map of envelope type names
// to payload type declarations.
func NewTypeRegistry(types map[string]*PayloadType, opts ...RegistryOption) (*TypeRegistry, error) {
	r := &TypeRegistry{
		codec:     codec.Default,
		codecMime: codec.Mimes[codec.Default.Name()],
		types:     make(map[string]*PayloadType),
		rtypes:    make(map[reflect.Type]string),
	}

	for _, f := range opts {
		if err := f.addOption(r); err != nil {
			return nil, err
		}
	}

	for n, t := range types {
		if err := r.validate(n, t); err != nil {
			return nil, err
		}
		r.addType(n, t)
	}

	return r, nil
}
