package nodecore

import (
	"context"
	"fmt"
	"log/slog"
)

// Node is the runtime container: it holds the registered modules, resolves
// their start order from Dependencies(), and drives Init/Start/Stop the way
// the teacher framework's Application drives module lifecycle, scaled down
// to the fixed set of subsystems a single node runs (no tenants, no dynamic
// service registry — the module set is wired once at boot).
type Node struct {
	Logger *slog.Logger

	modules ModuleRegistry
	order   []string // resolved Init/Start order; Stop runs it in reverse
	started []string // names actually started, for partial-failure Stop
}

// NewNode creates an empty Node. Pass a logger grouped per subsystem; if nil,
// slog.Default() is used.
func NewNode(logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{Logger: logger, modules: ModuleRegistry{}}
}

// Register adds a module to the node. Registration order does not need to
// match dependency order; Init/Start order is resolved from Dependencies().
func (n *Node) Register(m Module) error {
	name := m.Name()
	if name == "" {
		return NewError(KindInvalidParameter, "module name must not be empty")
	}
	if _, exists := n.modules[name]; exists {
		return NewError(KindInvalidParameter, fmt.Sprintf("module %q already registered", name))
	}
	n.modules[name] = m
	return nil
}

// Service looks up a previously registered module by name, for modules
// wiring against each other's public API from Init. The caller type-asserts
// to the concrete module type or a narrow interface it expects.
func (n *Node) Service(name string) (Module, bool) {
	m, ok := n.modules[name]
	return m, ok
}

// resolveOrder performs a dependency-ordered (topological) sort of the
// registered modules, the same walk the teacher's application init does
// before calling each module's Init in order.
func (n *Node) resolveOrder() ([]string, error) {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(n.modules))
	order := make([]string, 0, len(n.modules))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return NewError(KindInvalidState, fmt.Sprintf("circular module dependency at %q", name))
		}
		state[name] = visiting
		m, ok := n.modules[name]
		if !ok {
			return NewError(KindInvalidParameter, fmt.Sprintf("unknown module dependency %q", name))
		}
		if da, ok := m.(DependencyAware); ok {
			for _, dep := range da.Dependencies() {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[name] = visited
		order = append(order, name)
		return nil
	}

	for name := range n.modules {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Init resolves dependency order and calls Init on every registered module
// in that order.
func (n *Node) Init() error {
	order, err := n.resolveOrder()
	if err != nil {
		return err
	}
	n.order = order
	for _, name := range order {
		m := n.modules[name]
		n.Logger.Debug("initializing module", "module", name)
		if err := m.Init(n); err != nil {
			return fmt.Errorf("init module %q: %w", name, err)
		}
	}
	return nil
}

// Start calls Start on every Startable module in dependency order. If any
// module fails to start, Start stops the modules it already started (in
// reverse order) before returning the error.
func (n *Node) Start(ctx context.Context) error {
	for _, name := range n.order {
		m := n.modules[name]
		s, ok := m.(Startable)
		if !ok {
			continue
		}
		n.Logger.Debug("starting module", "module", name)
		if err := s.Start(ctx); err != nil {
			stopErr := n.Stop(ctx)
			if stopErr != nil {
				n.Logger.Error("cleanup after failed start also failed", "error", stopErr)
			}
			return fmt.Errorf("start module %q: %w", name, err)
		}
		n.started = append(n.started, name)
	}
	return nil
}

// Stop calls Stop on every Stoppable module that was started, in reverse
// dependency order, collecting (not short-circuiting on) errors.
func (n *Node) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(n.started) - 1; i >= 0; i-- {
		name := n.started[i]
		m := n.modules[name]
		s, ok := m.(Stoppable)
		if !ok {
			continue
		}
		n.Logger.Debug("stopping module", "module", name)
		if err := s.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop module %q: %w", name, err)
		}
	}
	n.started = nil
	return firstErr
}
