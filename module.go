// Package nodecore is the root of a home-automation node runtime: a
// cooperative event loop, an 802.15.4 radio driver, a LIN-like field-bus
// master, an MQTT-SN broker, a typed pub/sub plane, and a function runtime
// (switches, lights, blinds, heating controllers) that connects them.
//
// Every subsystem is a Module. A Node wires modules together, resolves
// start/stop order from declared dependencies, and runs them against a
// single context so shutdown is cooperative rather than forced.
package nodecore

import "context"

// Module is a registrable subsystem of the node runtime. Every spec
// component (event loop, radio, bus master, broker, pub/sub plane, function
// runtime, peripherals) implements it.
type Module interface {
	// Name returns the module's unique identifier, used for dependency
	// resolution and for log/metric attribution.
	Name() string

	// Init wires the module against the already-registered services of the
	// Node. It runs once, after every module has been registered and before
	// any module is started. Modules that need another module's public API
	// look it up here, not in a constructor, since registration order is
	// not guaranteed to match dependency order.
	Init(node *Node) error
}

// DependencyAware lets a module declare other modules that must Init/Start
// before it does, and Stop after it does.
type DependencyAware interface {
	Dependencies() []string
}

// Startable is implemented by modules with an ongoing runtime loop (the
// radio driver's receive pump, the broker's publish coroutine, a function's
// state machine). Start should return once the module's background work is
// launched; it must not block past that unless ctx is already done.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable is implemented by modules that own resources needing an orderly
// teardown (in-flight radio sends, open bus transfers, broker connections).
type Stoppable interface {
	Stop(ctx context.Context) error
}

// ModuleRegistry maps module name to Module, mirroring the map-based registry
// the teacher framework keeps internally.
type ModuleRegistry map[string]Module
