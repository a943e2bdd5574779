package cebus

import "sync"

var (
	defaultMu  sync.Mutex
	defaultBus *Bus
)

// Default returns the process-wide bus, creating it with DefaultConfig
// on first use. It exists as a convenience for applications with a
// single bus; components should normally receive an explicitly
// constructed bus instead of reaching for this one.
//
// Lifecycle: created at startup (first call), destroyed at shutdown
// via ShutdownDefault.
func Default() *Bus {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultBus == nil {
		// DefaultConfig cannot produce a constructor error.
		defaultBus, _ = New(DefaultConfig())
	}
	return defaultBus
}

// ShutdownDefault destroys the process-wide bus and releases it. A
// subsequent Default call creates a fresh one.
func ShutdownDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultBus != nil {
		defaultBus.Destroy()
		defaultBus = nil
	}
}
