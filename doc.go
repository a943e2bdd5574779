/*
Package cebus is an in-process event bus built around a versioned,
CloudEvents-style envelope.

Setup

Construct a bus from an explicit configuration value. The defaults are
documented on DefaultConfig.

	bus, err := cebus.New(cebus.DefaultConfig())

Envelopes

Build an envelope with the fluent builder. ID, Source, and Type are
required; Build reports any that are absent.

	env, err := cebus.NewBuilder().
		ID("evt-1").
		Source("/guild/roster").
		Type("guild.member.joined").
		Data(map[string]any{"member": "aria"}).
		Build()

A builder obtained from the bus fills ID and Time automatically:

	env, err := bus.Builder().
		Source("/guild/roster").
		Type("guild.member.joined").
		Build()

Publish and subscribe

	sub, err := bus.Subscribe("guild.member.joined", func(e *cebus.Envelope) error {
		// react
		return nil
	})

	err = bus.Publish(env)

Handlers are isolated: a handler returning an error, or panicking,
never affects the publisher or other subscribers. Failures are counted
and re-emitted as envelopes of type TypeHandlerError. Subscribing with
cebus.Wildcard receives every published envelope.

Validation

Every publish runs the envelope through a validation stage whose
policy is set at construction: strict aborts the publish, warning lets
the envelope through while recording the failure, disabled bypasses
the validator. Statistics are available through Bus.ValidationStats.
*/
package cebus
