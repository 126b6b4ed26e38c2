package medtracker

import (
	"context"
	"fmt"
)

// Plugin is a named component that the server wires in at startup.
type Plugin interface {
	Name() string
}

// DependentPlugin is implemented by plugins that need other plugins to be
// registered and initialized first.
type DependentPlugin interface {
	Deps() []string
}

// OptionalDependentPlugin lists plugins that, when registered, must be
// initialized first.
type OptionalDependentPlugin interface {
	OptDeps() []string
}

// InitializablePlugin is initialized in dependency order once the server has
// been built.
type InitializablePlugin interface {
	Init(ctx context.Context, r *Registry) error
}

// OptionProvider contributes server options, usually HTTP routes.
type OptionProvider interface {
	ServerOptions() []ServerOption
}

// ShutdownPlugin releases resources when the server stops.
type ShutdownPlugin interface {
	Shutdown(ctx context.Context) error
}

// Registry holds the registered plugins.
type Registry struct {
	plugins map[string]Plugin
	order   []string
	inited  []string
}

// Get returns the plugin registered under name, or nil.
func (r *Registry) Get(name string) Plugin {
	return r.plugins[name]
}

// Register adds a plugin. Registering the same name twice replaces the earlier
// plugin but keeps its position.
func (r *Registry) Register(p Plugin) {
	if r.plugins == nil {
		r.plugins = map[string]Plugin{}
	}
	n := p.Name()
	if _, exists := r.plugins[n]; !exists {
		r.order = append(r.order, n)
	}
	r.plugins[n] = p
}

// Init initializes every plugin after its dependencies. It fails on missing
// required dependencies and on cycles.
func (r *Registry) Init(ctx context.Context) error {
	state := map[string]int{} // 0 unvisited, 1 visiting, 2 done
	for _, name := range r.order {
		if err := r.visit(ctx, name, true, state); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) visit(ctx context.Context, name string, required bool, state map[string]int) error {
	switch state[name] {
	case 1:
		return fmt.Errorf("plugin: dependency cycle detected involving '%s'", name)
	case 2:
		return nil
	}
	p, ok := r.plugins[name]
	if !ok {
		if required {
			return fmt.Errorf("plugin: missing dependency, '%s' not registered", name)
		}
		return nil
	}

	state[name] = 1
	if d, ok := p.(DependentPlugin); ok {
		for _, dep := range d.Deps() {
			if err := r.visit(ctx, dep, true, state); err != nil {
				return err
			}
		}
	}
	if d, ok := p.(OptionalDependentPlugin); ok {
		for _, dep := range d.OptDeps() {
			if err := r.visit(ctx, dep, false, state); err != nil {
				return err
			}
		}
	}
	if ip, ok := p.(InitializablePlugin); ok {
		if err := ip.Init(ctx, r); err != nil {
			return fmt.Errorf("plugin: failed to initialize '%s': %w", name, err)
		}
	}
	state[name] = 2
	r.inited = append(r.inited, name)
	return nil
}

// Shutdown stops plugins in reverse initialization order and returns the
// first error encountered.
func (r *Registry) Shutdown(ctx context.Context) error {
	var first error
	for i := len(r.inited) - 1; i >= 0; i-- {
		if sp, ok := r.plugins[r.inited[i]].(ShutdownPlugin); ok {
			if err := sp.Shutdown(ctx); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
