// Package relay bridges a cebus bus across a process boundary over
// NATS. An outbound relay republishes every local envelope as a NATS
// message with envelope attributes in headers; an inbound relay
// unpacks such messages and publishes them on the local bus.
package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/cebus-io/cebus"
	"github.com/cebus-io/cebus/codec"
)

const (
	specVersionHdr = "Cebus-Spec-Version"
	typeHdr        = "Cebus-Event-Type"
	timeHdr        = "Cebus-Event-Time"
	sourceHdr      = "Cebus-Event-Source"
	subjectHdr     = "Cebus-Event-Subject"
	schemaHdr      = "Cebus-Data-Schema"
	contentTypeHdr = "Cebus-Data-Content-Type"
	codecHdr       = "Cebus-Codec"
	extPrefixHdr   = "Cebus-Ext-"

	// relayedExt marks envelopes that arrived from a remote bus so the
	// outbound side does not echo them back.
	relayedExt = "relayed"
)

var (
	ErrBusRequired  = errors.New("relay: bus required")
	ErrConnRequired = errors.New("relay: nats connection required")
)

type relayOption func(r *Relay) error

func (f relayOption) addOption(r *Relay) error {
	return f(r)
}

// Option models an option when creating a relay.
type Option interface {
	addOption(r *Relay) error
}

// SubjectPrefix sets the NATS subject prefix outbound envelopes are
// published under. The full subject is prefix plus the envelope type,
// e.g. "cebus.guild.member.joined". Default is "cebus".
func SubjectPrefix(prefix string) Option {
	return relayOption(func(r *Relay) error {
		r.prefix = prefix
		return nil
	})
}

// Codec names the codec used to encode envelope payloads on the wire.
// Default is the codec package default.
func Codec(name string) Option {
	return relayOption(func(r *Relay) error {
		c, err := codec.Get(name)
		if err != nil {
			return err
		}
		r.codec = c
		return nil
	})
}

// Types sets a payload type registry. Outbound payloads are encoded
// through it, stamping the envelope's content type when unset; inbound
// payloads are decoded into native values keyed by the envelope type.
// Without a registry, inbound payloads stay the raw encoded bytes and
// the codec header tells the consumer how to decode them.
func Types(types *cebus.TypeRegistry) Option {
	return relayOption(func(r *Relay) error {
		r.types = types
		return nil
	})
}

// Relay forwards envelopes between a local bus and NATS. All envelope
// fields round-trip; extension attribute values cross the boundary as
// strings.
type Relay struct {
	nc     *nats.Conn
	bus    *cebus.Bus
	prefix string
	codec  codec.Codec
	types  *cebus.TypeRegistry

	sub  *cebus.Subscription
	nsub *nats.Subscription
}

// New initializes a relay between a bus and a NATS connection.
func New(nc *nats.Conn, bus *cebus.Bus, opts ...Option) (*Relay, error) {
	if nc == nil {
		return nil, ErrConnRequired
	}
	if bus == nil {
		return nil, ErrBusRequired
	}

	r := &Relay{
		nc:     nc,
		bus:    bus,
		prefix: "cebus",
		codec:  codec.Default,
	}

	for _, o := range opts {
		if err := o.addOption(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// StartOutbound subscribes to every envelope on the local bus and
// republishes each one to NATS. Envelopes that arrived through an
// inbound relay are skipped.
func (r *Relay) StartOutbound() error {
	sub, err := r.bus.Subscribe(cebus.Wildcard, func(e *cebus.Envelope) error {
		if _, ok := e.Extension(relayedExt); ok {
			return nil
		}
		msg, err := r.packEnvelope(e)
		if err != nil {
			return fmt.Errorf("relay: pack %q: %w", e.Type, err)
		}
		return r.nc.PublishMsg(msg)
	})
	if err != nil {
		return err
	}
	r.sub = sub
	return nil
}

// StartInbound subscribes to the relay's NATS subject space and
// publishes every unpacked envelope on the local bus. Unpack and
// publish failures are reported through the bus's handler-error
// channel.
func (r *Relay) StartInbound() error {
	nsub, err := r.nc.Subscribe(r.prefix+".>", func(msg *nats.Msg) {
		env, err := r.unpackEnvelope(msg)
		if err != nil {
			r.bus.ReportHandlerError(msg.Subject, err)
			return
		}
		if err := r.bus.Publish(env); err != nil {
			r.bus.ReportHandlerError(env.Type, err)
		}
	})
	if err != nil {
		return err
	}
	r.nsub = nsub
	return nil
}

// Stop detaches the relay from the bus and NATS.
func (r *Relay) Stop() error {
	if r.sub != nil {
		r.sub.Unsubscribe()
		r.sub = nil
	}
	if r.nsub != nil {
		if err := r.nsub.Unsubscribe(); err != nil {
			return err
		}
		r.nsub = nil
	}
	return nil
}

// Pack an envelope into a NATS message. Attributes travel in headers
// so consumers can route on them without decoding the payload.
func (r *Relay) packEnvelope(e *cebus.Envelope) (*nats.Msg, error) {
	msg := nats.NewMsg(r.prefix + "." + e.Type)

	msg.Header.Set(nats.MsgIdHdr, e.ID)
	msg.Header.Set(specVersionHdr, e.SpecVersion)
	msg.Header.Set(typeHdr, e.Type)
	msg.Header.Set(sourceHdr, e.Source)

	if e.Time != "" {
		msg.Header.Set(timeHdr, e.Time)
	}
	if e.Subject != "" {
		msg.Header.Set(subjectHdr, e.Subject)
	}
	if e.DataSchema != "" {
		msg.Header.Set(schemaHdr, e.DataSchema)
	}
	if e.DataContentType != "" {
		msg.Header.Set(contentTypeHdr, e.DataContentType)
	}

	for k, v := range e.Extensions {
		msg.Header.Set(extPrefixHdr+k, fmt.Sprintf("%v", v))
	}

	if e.Data != nil {
		if r.types != nil {
			b, mime, err := r.types.MarshalData(e.Data)
			if err != nil {
				return nil, err
			}
			msg.Data = b
			msg.Header.Set(codecHdr, r.types.Codec().Name())
			if msg.Header.Get(contentTypeHdr) == "" {
				msg.Header.Set(contentTypeHdr, mime)
			}
		} else {
			b, err := r.codec.Marshal(e.Data)
			if err != nil {
				return nil, err
			}
			msg.Data = b
			msg.Header.Set(codecHdr, r.codec.Name())
		}
	}

	return msg, nil
}

// Unpack an envelope from a NATS message, decoding the payload into a
// registered native type when a registry is configured.
func (r *Relay) unpackEnvelope(msg *nats.Msg) (*cebus.Envelope, error) {
	env := &cebus.Envelope{
		SpecVersion:     msg.Header.Get(specVersionHdr),
		ID:              msg.Header.Get(nats.MsgIdHdr),
		Source:          msg.Header.Get(sourceHdr),
		Type:            msg.Header.Get(typeHdr),
		Time:            msg.Header.Get(timeHdr),
		Subject:         msg.Header.Get(subjectHdr),
		DataSchema:      msg.Header.Get(schemaHdr),
		DataContentType: msg.Header.Get(contentTypeHdr),
		Extensions: map[string]any{
			relayedExt: "true",
		},
	}

	for h := range msg.Header {
		if strings.HasPrefix(h, extPrefixHdr) {
			key := strings.ToLower(h[len(extPrefixHdr):])
			env.Extensions[key] = msg.Header.Get(h)
		}
	}

	if len(msg.Data) > 0 {
		if r.types == nil {
			// No registry to decode into; keep the raw encoded bytes.
			// The codec header still tells the consumer how to decode
			// them. Copied because the transport owns msg.Data.
			env.Data = append([]byte(nil), msg.Data...)
		} else {
			if name := msg.Header.Get(codecHdr); name != r.types.Codec().Name() {
				return nil, fmt.Errorf("relay: payload encoded with %q, registry decodes %q",
					name, r.types.Codec().Name())
			}
			v, err := r.types.UnmarshalType(msg.Data, env.Type)
			if err != nil {
				return nil, err
			}
			env.Data = v
		}
	}

	return env, nil
}
