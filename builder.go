package cebus

import (
	"errors"
	"fmt"
	"time"

	"github.com/cebus-io/cebus/clock"
	"github.com/cebus-io/cebus/id"
)

var (
	ErrMissingRequiredField = errors.New("cebus: missing required field")
	ErrInvalidExtensionName = errors.New("cebus: invalid extension name")
)

// Builder assembles an envelope one field at a time. The zero-value
// envelope it starts from carries the supported spec version, so a
// minimal build only needs ID, Source, and Type.
//
// Builders are not safe for concurrent use; build one envelope per
// builder, or seed a new builder with From.
type Builder struct {
	env Envelope
	clk clock.Clock
	gen id.ID
	err error
}

// NewBuilder returns a builder for a new envelope.
func NewBuilder() *Builder {
	return &Builder{
		env: Envelope{SpecVersion: SpecVersion},
	}
}

// From returns a builder seeded from an existing envelope for
// clone-and-modify construction. All core fields and extension
// attributes are copied.
func From(e *Envelope) *Builder {
	return &Builder{env: *e.Clone()}
}

// WithID sets a generator used to fill the ID field when it was not
// set explicitly.
func (b *Builder) WithID(gen id.ID) *Builder {
	b.gen = gen
	return b
}

// WithClock sets a clock used to fill the Time field when it was not
// set explicitly.
func (b *Builder) WithClock(clk clock.Clock) *Builder {
	b.clk = clk
	return b
}

// SpecVersion overrides the envelope format version. There is exactly
// one valid value; this exists so malformed envelopes can be
// constructed for policy testing.
func (b *Builder) SpecVersion(v string) *Builder {
	b.env.SpecVersion = v
	return b
}

func (b *Builder) ID(id string) *Builder {
	b.env.ID = id
	return b
}

func (b *Builder) Source(source string) *Builder {
	b.env.Source = source
	return b
}

func (b *Builder) Type(eventType string) *Builder {
	b.env.Type = eventType
	return b
}

// Time sets the event time from a time value, serialized as RFC3339.
func (b *Builder) Time(t time.Time) *Builder {
	b.env.Time = t.Format(time.RFC3339Nano)
	return b
}

// TimeString sets the event time from a raw string. The string is not
// checked here; the validator confirms it round-trips as RFC3339.
func (b *Builder) TimeString(s string) *Builder {
	b.env.Time = s
	return b
}

func (b *Builder) Subject(subject string) *Builder {
	b.env.Subject = subject
	return b
}

func (b *Builder) DataContentType(ct string) *Builder {
	b.env.DataContentType = ct
	return b
}

func (b *Builder) DataSchema(schema string) *Builder {
	b.env.DataSchema = schema
	return b
}

func (b *Builder) Data(data any) *Builder {
	b.env.Data = data
	return b
}

// Extension adds an extension attribute. The name is checked against
// the extension naming rule at the moment it is added; an invalid name
// is recorded and surfaced by Build.
func (b *Builder) Extension(name string, value any) *Builder {
	if err := validateExtensionName(name); err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	if b.env.Extensions == nil {
		b.env.Extensions = make(map[string]any)
	}
	b.env.Extensions[name] = value
	return b
}

// Err reports the first error recorded by a setter, if any.
func (b *Builder) Err() error {
	return b.err
}

// Build returns the assembled envelope, or an error naming the first
// invalid extension name or the first absent required field.
func (b *Builder) Build() (*Envelope, error) {
	if b.err != nil {
		return nil, b.err
	}

	env := b.env.Clone()

	if env.ID == "" && b.gen != nil {
		env.ID = b.gen.New()
	}
	if env.Time == "" && b.clk != nil {
		env.Time = b.clk.Now().Format(time.RFC3339Nano)
	}

	if env.ID == "" {
		return nil, fmt.Errorf("%w: id", ErrMissingRequiredField)
	}
	if env.Source == "" {
		return nil, fmt.Errorf("%w: source", ErrMissingRequiredField)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: type", ErrMissingRequiredField)
	}

	return env, nil
}
