package cebus

import (
	"fmt"
	"time"

	"github.com/cebus-io/cebus/clock"
	"github.com/cebus-io/cebus/id"
)

// internalSource identifies the bus itself as the producer of
// side-channel error envelopes.
const internalSource = "/cebus/bus"

// Config carries every tunable of a bus and its validation stage.
// Construction sites pass one explicit value; the only defaults are
// the documented ones applied by DefaultConfig for zero fields.
type Config struct {
	// Policy is the validation enforcement level.
	Policy Policy

	// MaxListeners is the per-type listener count at which Subscribe
	// emits a warning. Zero takes the default.
	MaxListeners int

	// StatsWindow bounds the trailing sample window for the moving
	// average validation time. Zero takes the default.
	StatsWindow int

	// DelayBudget is the validation duration above which a
	// performance warning is emitted. Zero takes the default.
	DelayBudget time.Duration
}

// DefaultConfig returns the documented defaults: strict policy, 64
// listeners per type, a 100-sample statistics window, and a 5ms
// validation delay budget.
func DefaultConfig() Config {
	return Config{
		Policy:       PolicyStrict,
		MaxListeners: 64,
		StatsWindow:  100,
		DelayBudget:  5 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Policy == "" {
		c.Policy = d.Policy
	}
	if c.MaxListeners == 0 {
		c.MaxListeners = d.MaxListeners
	}
	if c.StatsWindow == 0 {
		c.StatsWindow = d.StatsWindow
	}
	if c.DelayBudget == 0 {
		c.DelayBudget = d.DelayBudget
	}
	return c
}

type busOption func(b *Bus) error

func (f busOption) addOption(b *Bus) error {
	return f(b)
}

// Option models an option when creating a bus.
type Option interface {
	addOption(b *Bus) error
}

// Clock sets a clock implementation. Default is clock.Time.
func Clock(clk clock.Clock) Option {
	return busOption(func(b *Bus) error {
		b.clk = clk
		return nil
	})
}

// ID sets a unique ID generator implementation. Default is id.NUID.
func ID(gen id.ID) Option {
	return busOption(func(b *Bus) error {
		b.gen = gen
		return nil
	})
}

// OnWarning sets a callback for operational warnings: listener count
// thresholds, validation delay budget overruns, and warning-policy
// validation failures.
func OnWarning(f func(msg string)) Option {
	return busOption(func(b *Bus) error {
		b.onWarning = f
		return nil
	})
}

// OnHandlerError sets a callback invoked with the offending event type
// whenever a subscriber fails.
func OnHandlerError(f func(eventType string, err error)) Option {
	return busOption(func(b *Bus) error {
		b.onHandlerError = f
		return nil
	})
}

// OnBusError sets a callback invoked when a middleware stage aborts a
// publish.
func OnBusError(f func(err error)) Option {
	return busOption(func(b *Bus) error {
		b.onBusError = f
		return nil
	})
}

// New initializes a bus from an explicit configuration value.
func New(cfg Config, opts ...Option) (*Bus, error) {
	cfg = cfg.withDefaults()

	switch cfg.Policy {
	case PolicyStrict, PolicyWarning, PolicyDisabled:
	default:
		return nil, fmt.Errorf("cebus: unknown policy %q", cfg.Policy)
	}

	b := &Bus{
		cfg:  cfg,
		clk:  clock.Time,
		gen:  id.NUID,
		subs: make(map[string][]*Subscription),
	}

	for _, o := range opts {
		if err := o.addOption(b); err != nil {
			return nil, err
		}
	}

	vm := NewValidationMiddleware(cfg)
	vm.clk = b.clk
	vm.warn = b.onWarning
	b.vm = vm

	return b, nil
}

// Builder returns an envelope builder wired to the bus's clock and ID
// generator, so unset ID and Time fields are filled at Build.
func (b *Bus) Builder() *Builder {
	return NewBuilder().WithClock(b.clk).WithID(b.gen)
}
