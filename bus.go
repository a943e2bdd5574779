package cebus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cebus-io/cebus/clock"
	"github.com/cebus-io/cebus/id"
)

const (
	// Wildcard subscribes a handler to every published envelope
	// regardless of type.
	Wildcard = "*"

	// TypeHandlerError is the internal event type carrying subscriber
	// failures. Observers subscribe to it explicitly; it is emitted
	// outside the middleware chain.
	TypeHandlerError = "cebus.handler.error"

	// TypeBusError is the internal event type carrying middleware
	// failures that aborted a publish.
	TypeBusError = "cebus.bus.error"
)

var (
	ErrEnvelopeRequired = errors.New("cebus: envelope required")
	ErrTypeRequired     = errors.New("cebus: event type required")
	ErrHandlerRequired  = errors.New("cebus: handler required")
	ErrNotSubscribed    = errors.New("cebus: handler not subscribed")
	ErrMiddlewareFailed = errors.New("cebus: middleware failed")
)

// Handler receives a published envelope. A returned error is caught by
// the bus, reported on the handler-error channel, and never reaches
// the publisher. Handlers that do their work asynchronously should
// return nil and report failures with Bus.ReportHandlerError.
type Handler func(e *Envelope) error

// Subscription is the handle returned by Subscribe. It pairs the
// caller's handler identity with the isolation wrapper actually held
// in the listener list, so detaching removes the exact registration.
type Subscription struct {
	bus     *Bus
	typ     string
	key     uintptr
	wrapped func(e *Envelope)
}

// Type returns the event type (or Wildcard) this subscription is for.
func (s *Subscription) Type() string {
	return s.typ
}

// Unsubscribe detaches this registration from the bus.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
}

// BusStats is a read-only snapshot of dispatch counters.
type BusStats struct {
	Published        uint64
	Delivered        uint64
	HandlerErrors    uint64
	MiddlewareAborts uint64
	Subscriptions    int
}

// Bus dispatches envelopes to subscribers. Publishing runs the
// validation stage and then the ordered user middleware chain before
// fan-out; fan-out is sequential per publish call so delivery order is
// registration order and handler failures are isolated from each other
// and from the publisher.
//
// Publish may be called concurrently. Subscription and middleware
// mutations are serialized against in-flight publishes by snapshotting
// under a read-write lock.
type Bus struct {
	cfg Config
	vm  *ValidationMiddleware

	clk clock.Clock
	gen id.ID

	onWarning      func(msg string)
	onHandlerError func(eventType string, err error)
	onBusError     func(err error)

	mu          sync.RWMutex
	subs        map[string][]*Subscription
	middlewares []Middleware

	published        uint64
	delivered        uint64
	handlerErrors    uint64
	middlewareAborts uint64
}

// Publish runs the envelope through validation and the middleware
// chain, then dispatches it to all subscribers registered under the
// envelope's exact type followed by all wildcard subscribers, in
// registration order. The only errors returned are validation
// failures under the strict policy and middleware failures; handler
// failures are contained.
func (b *Bus) Publish(e *Envelope) error {
	if e == nil {
		return ErrEnvelopeRequired
	}

	atomic.AddUint64(&b.published, 1)

	b.mu.RLock()
	mws := make([]Middleware, 0, len(b.middlewares)+1)
	mws = append(mws, b.vm.Middleware())
	mws = append(mws, b.middlewares...)
	b.mu.RUnlock()

	cur := e
	for _, mw := range mws {
		next, err := mw(cur)
		if err != nil {
			atomic.AddUint64(&b.middlewareAborts, 1)
			b.notifyBusError(cur.Type, err)
			if errors.Is(err, ErrValidationFailed) {
				return err
			}
			return fmt.Errorf("%w: %s", ErrMiddlewareFailed, err)
		}
		if next != nil {
			cur = next
		}
	}

	for _, s := range b.snapshot(cur.Type) {
		s.wrapped(cur)
	}

	return nil
}

// snapshot copies the subscriber lists for a type plus the wildcard
// list so dispatch can iterate without holding the lock.
func (b *Bus) snapshot(eventType string) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	exact := b.subs[eventType]
	wild := b.subs[Wildcard]

	out := make([]*Subscription, 0, len(exact)+len(wild))
	out = append(out, exact...)
	if eventType != Wildcard {
		out = append(out, wild...)
	}
	return out
}

// Subscribe registers a handler for an exact event type or for
// Wildcard. The handler is wrapped for error isolation; the returned
// handle retains the original handler identity so Unsubscribe can
// locate the registration.
func (b *Bus) Subscribe(eventType string, h Handler) (*Subscription, error) {
	if eventType == "" {
		return nil, ErrTypeRequired
	}
	if h == nil {
		return nil, ErrHandlerRequired
	}

	s := &Subscription{
		bus: b,
		typ: eventType,
		key: reflect.ValueOf(h).Pointer(),
	}
	s.wrapped = func(e *Envelope) {
		defer func() {
			if r := recover(); r != nil {
				b.ReportHandlerError(e.Type, fmt.Errorf("handler panic: %v", r))
			}
		}()
		if err := h(e); err != nil {
			b.ReportHandlerError(e.Type, err)
			return
		}
		atomic.AddUint64(&b.delivered, 1)
	}

	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], s)
	n := len(b.subs[eventType])
	b.mu.Unlock()

	if b.cfg.MaxListeners > 0 && n >= b.cfg.MaxListeners {
		b.warnf("event type %q has %d listeners, configured maximum is %d", eventType, n, b.cfg.MaxListeners)
	}

	return s, nil
}

// Unsubscribe removes the registration for the original handler
// reference under the given type. Other registrations for the same
// type are unaffected. Distinct closures created from the same
// function literal share an identity; hold the Subscription handle
// and use its Unsubscribe method when that ambiguity matters.
func (b *Bus) Unsubscribe(eventType string, h Handler) error {
	if h == nil {
		return ErrHandlerRequired
	}

	key := reflect.ValueOf(h).Pointer()

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[eventType]
	for i, s := range list {
		if s.key == key {
			b.detachLocked(eventType, i)
			return nil
		}
	}
	return fmt.Errorf("%w: type %q", ErrNotSubscribed, eventType)
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs[sub.typ] {
		if s == sub {
			b.detachLocked(sub.typ, i)
			return
		}
	}
}

func (b *Bus) detachLocked(eventType string, i int) {
	list := b.subs[eventType]
	list = append(list[:i:i], list[i+1:]...)
	if len(list) == 0 {
		delete(b.subs, eventType)
	} else {
		b.subs[eventType] = list
	}
}

// Use appends a middleware to the chain used by every subsequent
// Publish call. The validation stage always runs first and is not part
// of this chain.
func (b *Bus) Use(mw Middleware) {
	if mw == nil {
		return
	}
	b.mu.Lock()
	b.middlewares = append(b.middlewares, mw)
	b.mu.Unlock()
}

// RemoveMiddleware removes a middleware by reference identity. As with
// Unsubscribe, distinct closures created from the same function literal
// share an identity; keep the Middleware value passed to Use when that
// ambiguity matters.
func (b *Bus) RemoveMiddleware(mw Middleware) {
	key := reflect.ValueOf(mw).Pointer()

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, m := range b.middlewares {
		if reflect.ValueOf(m).Pointer() == key {
			b.middlewares = append(b.middlewares[:i:i], b.middlewares[i+1:]...)
			return
		}
	}
}

// ClearMiddlewares removes all user middleware. The validation stage
// remains.
func (b *Bus) ClearMiddlewares() {
	b.mu.Lock()
	b.middlewares = nil
	b.mu.Unlock()
}

// Destroy clears all subscriptions, middleware, and counters,
// including the validation statistics. It is idempotent; the bus
// remains usable afterwards, though it is intended to be called once
// at shutdown.
func (b *Bus) Destroy() {
	b.mu.Lock()
	b.subs = make(map[string][]*Subscription)
	b.middlewares = nil
	b.mu.Unlock()

	atomic.StoreUint64(&b.published, 0)
	atomic.StoreUint64(&b.delivered, 0)
	atomic.StoreUint64(&b.handlerErrors, 0)
	atomic.StoreUint64(&b.middlewareAborts, 0)

	b.vm.Reset()
}

// Snapshot returns the current dispatch counters. It never mutates
// state.
func (b *Bus) Snapshot() BusStats {
	b.mu.RLock()
	n := 0
	for _, list := range b.subs {
		n += len(list)
	}
	b.mu.RUnlock()

	return BusStats{
		Published:        atomic.LoadUint64(&b.published),
		Delivered:        atomic.LoadUint64(&b.delivered),
		HandlerErrors:    atomic.LoadUint64(&b.handlerErrors),
		MiddlewareAborts: atomic.LoadUint64(&b.middlewareAborts),
		Subscriptions:    n,
	}
}

// ValidationStats returns a snapshot of the validation middleware
// statistics.
func (b *Bus) ValidationStats() Stats {
	return b.vm.Stats()
}

// ReportHandlerError records a subscriber failure and emits it on the
// handler-error channel naming the offending event type. Handlers
// running asynchronously call this from their own goroutine when their
// work fails; the bus calls it for synchronous errors and panics.
func (b *Bus) ReportHandlerError(eventType string, err error) {
	atomic.AddUint64(&b.handlerErrors, 1)

	if b.onHandlerError != nil {
		b.onHandlerError(eventType, err)
	}

	// A failure inside a handler-error observer is counted but not
	// re-emitted.
	if eventType == TypeHandlerError {
		return
	}

	b.emitInternal(TypeHandlerError, map[string]any{
		"type":  eventType,
		"error": err.Error(),
	})
}

func (b *Bus) notifyBusError(eventType string, err error) {
	if b.onBusError != nil {
		b.onBusError(err)
	}

	if eventType == TypeBusError {
		return
	}

	b.emitInternal(TypeBusError, map[string]any{
		"type":  eventType,
		"error": err.Error(),
	})
}

// emitInternal dispatches a bus-originated envelope to exact-type
// subscribers only, bypassing middleware and wildcard fan-out.
func (b *Bus) emitInternal(eventType string, data map[string]any) {
	b.mu.RLock()
	list := append([]*Subscription(nil), b.subs[eventType]...)
	b.mu.RUnlock()

	if len(list) == 0 {
		return
	}

	env := &Envelope{
		SpecVersion: SpecVersion,
		ID:          b.gen.New(),
		Source:      internalSource,
		Type:        eventType,
		Time:        b.clk.Now().Format(time.RFC3339Nano),
		Data:        data,
	}

	for _, s := range list {
		s.wrapped(env)
	}
}

func (b *Bus) warnf(format string, args ...any) {
	if b.onWarning != nil {
		b.onWarning(fmt.Sprintf(format, args...))
	}
}
