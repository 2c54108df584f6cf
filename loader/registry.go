// Package loader implements the loader container / service registry
// (spec §4 C10, §4.7): a keyed registry of per-container loaders plus a
// typed service registry dispensed to the host (spec §9 "Service-registry
// pattern ... replaced by a keyed registry from type-tag to object with an
// explicit manifest-vs-internal flag").
package loader

import (
	"sync"

	"github.com/pkg/errors"
)

// service pairs a registered value with the manifest-vs-internal flag
// spec §9 calls for: internal services are host-private wiring, not
// something a project manifest can request by tag.
type service struct {
	value    interface{}
	internal bool
}

// ServiceRegistry is a keyed registry from tag to object, replacing an
// open-ended typed service-provider interface (spec §9). Consumers request
// a tag and either receive a value or fail deterministically; there is no
// implicit fallback or type coercion.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]service
}

// NewServiceRegistry builds an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{services: make(map[string]service)}
}

// Register records value under tag. internal marks the service as
// unavailable to GetExternal (host-private wiring such as the package
// store or the remote feed set).
func (r *ServiceRegistry) Register(tag string, value interface{}, internal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[tag] = service{value: value, internal: internal}
}

// Get returns the value registered under tag regardless of its internal
// flag, for use by trusted in-process callers (the host itself).
func (r *ServiceRegistry) Get(tag string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[tag]
	if !ok {
		return nil, false
	}
	return s.value, true
}

// GetExternal returns the value registered under tag only if it was
// registered as non-internal; a manifest-driven consumer (spec §9) uses
// this to fail deterministically against host-private services.
func (r *ServiceRegistry) GetExternal(tag string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[tag]
	if !ok || s.internal {
		return nil, false
	}
	return s.value, true
}

// ErrUnknownTag is returned by Require when a tag was never registered.
var ErrUnknownTag = errors.New("loader: unknown service tag")

// Require returns the value registered under tag or ErrUnknownTag,
// collapsing the two-value Get into the explicit-error shape callers that
// treat a missing service as fatal prefer.
func (r *ServiceRegistry) Require(tag string) (interface{}, error) {
	v, ok := r.Get(tag)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTag, "tag %q", tag)
	}
	return v, nil
}
