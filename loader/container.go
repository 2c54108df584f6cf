package loader

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/modhost/core/compiler"
)

// Loader is a dispensable loader the container dispatches to by key (spec
// §4.7, "The loader container dispenses loaders by key"). A loader that
// has no project for the requested assembly name returns ok=false rather
// than an error, matching the source-project loader's "no-match" return
// for an absent manifest (spec §4.7 step 1).
type Loader interface {
	Key() string
	Load(ctx context.Context, assemblyName string) (module *compiler.Module, ok bool, err error)
}

// Container registers loaders by key and caches at most one compiled
// module per assembly name for its own lifetime (spec §4.7 "Cache
// invariant"); a fresh Container is required to force recompilation.
type Container struct {
	Services *ServiceRegistry

	mu      sync.Mutex
	loaders map[string]Loader
	cache   map[string]*compiler.Module
}

// NewContainer builds an empty container with its own service registry.
func NewContainer() *Container {
	return &Container{
		Services: NewServiceRegistry(),
		loaders:  make(map[string]Loader),
		cache:    make(map[string]*compiler.Module),
	}
}

// RegisterLoader adds l under its own key, replacing any loader
// previously registered under that key.
func (c *Container) RegisterLoader(l Loader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaders[l.Key()] = l
}

// Load dispatches to the loader registered under key and caches the
// result under assemblyName. A second Load for the same assemblyName
// (through any key) returns the cached module without re-invoking a
// loader, per the container-scoped cache invariant.
func (c *Container) Load(ctx context.Context, key, assemblyName string) (*compiler.Module, error) {
	c.mu.Lock()
	if m, ok := c.cache[assemblyName]; ok {
		c.mu.Unlock()
		return m, nil
	}
	l, ok := c.loaders[key]
	c.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("loader: no loader registered for key %q", key)
	}

	m, matched, err := l.Load(ctx, assemblyName)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s via %s", assemblyName, key)
	}
	if !matched {
		return nil, errors.Errorf("loader: %s: no match for assembly %q", key, assemblyName)
	}

	c.mu.Lock()
	c.cache[assemblyName] = m
	c.mu.Unlock()
	return m, nil
}

// LoadedModulePath implements compiler.Runtime against this container's
// own cache, so a compiler resolving a sibling project's reference can
// reuse a module this container already loaded (spec §4.7 step 4, "asks
// the runtime to load the named module").
func (c *Container) LoadedModulePath(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.cache[name]
	if !ok || m.Path == "" {
		return "", false
	}
	return m.Path, true
}
