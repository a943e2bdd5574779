package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cebus-io/cebus"
	"github.com/cebus-io/cebus/testutil"
)

type orderPlaced struct {
	OrderID string
	Total   float64
}

func newBus(t *testing.T) *cebus.Bus {
	t.Helper()
	b, err := cebus.New(cebus.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestPackUnpack(t *testing.T) {
	is := testutil.NewIs(t)

	bus := newBus(t)

	types, err := cebus.NewTypeRegistry(map[string]*cebus.PayloadType{
		"orders.placed": {
			Init: func() any { return &orderPlaced{} },
		},
	})
	is.NoErr(err)

	r, err := New(&nats.Conn{}, bus, Types(types))
	is.NoErr(err)

	env := &cebus.Envelope{
		SpecVersion:     cebus.SpecVersion,
		ID:              "evt-1",
		Source:          "/app/orders",
		Type:            "orders.placed",
		Time:            "2023-04-12T09:30:00Z",
		Subject:         "orders/42",
		DataContentType: "application/json",
		DataSchema:      "https://example.com/schemas/order.json",
		Data:            &orderPlaced{OrderID: "42", Total: 12.5},
		Extensions:      map[string]any{"priority": "high"},
	}

	msg, err := r.packEnvelope(env)
	is.NoErr(err)
	is.Equal(msg.Subject, "cebus.orders.placed")
	is.Equal(msg.Header.Get(typeHdr), "orders.placed")
	is.Equal(msg.Header.Get(codecHdr), "json")

	out, err := r.unpackEnvelope(msg)
	is.NoErr(err)

	is.Equal(out.SpecVersion, env.SpecVersion)
	is.Equal(out.ID, env.ID)
	is.Equal(out.Source, env.Source)
	is.Equal(out.Type, env.Type)
	is.Equal(out.Time, env.Time)
	is.Equal(out.Subject, env.Subject)
	is.Equal(out.DataContentType, env.DataContentType)
	is.Equal(out.DataSchema, env.DataSchema)
	is.Equal(out.Data, env.Data)

	v, ok := out.Extension("priority")
	is.True(ok)
	is.Equal(v, "high")

	// Inbound envelopes are marked so an outbound relay on the same
	// bus does not echo them.
	_, ok = out.Extension(relayedExt)
	is.True(ok)
}

func TestPackUnpackNoRegistry(t *testing.T) {
	is := testutil.NewIs(t)

	r, err := New(&nats.Conn{}, newBus(t))
	is.NoErr(err)

	env := &cebus.Envelope{
		SpecVersion: cebus.SpecVersion,
		ID:          "evt-1",
		Source:      "/app/orders",
		Type:        "orders.placed",
		Data:        &orderPlaced{OrderID: "42", Total: 12.5},
	}

	msg, err := r.packEnvelope(env)
	is.NoErr(err)
	is.Equal(msg.Header.Get(codecHdr), "json")

	out, err := r.unpackEnvelope(msg)
	is.NoErr(err)

	// Without a registry the payload stays the encoded wire bytes and
	// the codec header says how to decode them.
	raw, ok := out.Data.([]byte)
	is.True(ok)
	is.Equal(raw, msg.Data)

	var got orderPlaced
	is.NoErr(json.Unmarshal(raw, &got))
	is.Equal(got, orderPlaced{OrderID: "42", Total: 12.5})
}

func TestPackStampsContentType(t *testing.T) {
	is := testutil.NewIs(t)

	types, err := cebus.NewTypeRegistry(map[string]*cebus.PayloadType{
		"orders.placed": {
			Init: func() any { return &orderPlaced{} },
		},
	})
	is.NoErr(err)

	r, err := New(&nats.Conn{}, newBus(t), Types(types))
	is.NoErr(err)

	env := &cebus.Envelope{
		SpecVersion: cebus.SpecVersion,
		ID:          "evt-1",
		Source:      "/app/orders",
		Type:        "orders.placed",
		Data:        &orderPlaced{OrderID: "42", Total: 12.5},
	}

	msg, err := r.packEnvelope(env)
	is.NoErr(err)
	is.Equal(msg.Header.Get(contentTypeHdr), "application/json")

	out, err := r.unpackEnvelope(msg)
	is.NoErr(err)
	is.Equal(out.DataContentType, "application/json")
}

func TestUnpackCodecMismatch(t *testing.T) {
	is := testutil.NewIs(t)

	packer, err := New(&nats.Conn{}, newBus(t), Codec("msgpack"))
	is.NoErr(err)

	msg, err := packer.packEnvelope(&cebus.Envelope{
		SpecVersion: cebus.SpecVersion,
		ID:          "evt-1",
		Source:      "/app/orders",
		Type:        "orders.placed",
		Data:        &orderPlaced{OrderID: "42", Total: 12.5},
	})
	is.NoErr(err)

	types, err := cebus.NewTypeRegistry(map[string]*cebus.PayloadType{
		"orders.placed": {
			Init: func() any { return &orderPlaced{} },
		},
	})
	is.NoErr(err)

	unpacker, err := New(&nats.Conn{}, newBus(t), Types(types))
	is.NoErr(err)

	_, err = unpacker.unpackEnvelope(msg)
	if err == nil {
		t.Fatal("expected codec mismatch error")
	}
}

func TestRelayRoundTrip(t *testing.T) {
	is := testutil.NewIs(t)

	srv := testutil.NewNatsServer(-1)
	defer testutil.ShutdownNatsServer(srv)

	ncA, err := nats.Connect(srv.ClientURL())
	is.NoErr(err)
	defer ncA.Close()

	ncB, err := nats.Connect(srv.ClientURL())
	is.NoErr(err)
	defer ncB.Close()

	busA := newBus(t)
	busB := newBus(t)

	types, err := cebus.NewTypeRegistry(map[string]*cebus.PayloadType{
		"orders.placed": {
			Init: func() any { return &orderPlaced{} },
		},
	})
	is.NoErr(err)

	out, err := New(ncA, busA)
	is.NoErr(err)
	is.NoErr(out.StartOutbound())
	defer out.Stop()

	in, err := New(ncB, busB, Types(types))
	is.NoErr(err)
	is.NoErr(in.StartInbound())
	defer in.Stop()

	got := make(chan *cebus.Envelope, 1)
	_, err = busB.Subscribe("orders.placed", func(e *cebus.Envelope) error {
		got <- e
		return nil
	})
	is.NoErr(err)

	env, err := cebus.NewBuilder().
		ID("evt-1").
		Source("/app/orders").
		Type("orders.placed").
		TimeString("2023-04-12T09:30:00Z").
		Data(&orderPlaced{OrderID: "42", Total: 12.5}).
		Build()
	is.NoErr(err)

	is.NoErr(busA.Publish(env))
	is.NoErr(ncA.Flush())

	select {
	case e := <-got:
		is.Equal(e.ID, env.ID)
		is.Equal(e.Source, env.Source)
		is.Equal(e.Type, env.Type)
		is.Equal(e.Time, env.Time)
		is.Equal(e.Data, &orderPlaced{OrderID: "42", Total: 12.5})
	case <-time.After(5 * time.Second):
		t.Fatal("envelope never arrived on the remote bus")
	}
}
