package engine

import (
	"fmt"

	msgs "github.com/AndrewSinukov/service-bus/internal/engine/message"
)

// RouterDeps holds the collaborators shared by every executor the router
// builds. The resolver map is frozen here: executors consult it at
// invocation time but it is never mutated after construction.
type RouterDeps struct {
	Validator ObjectValidator
	Resolvers ResolverMap
}

// Router dispatches decoded messages to their executors. Lookup respects the
// registered supertype chain: supertype handlers run first, then subtype
// handlers, ties broken by catalog registration order. The router is
// immutable after construction.
type Router struct {
	registry  *msgs.Registry
	executors map[string][]*Executor
}

// NewRouter builds executors for every catalog descriptor. Descriptors whose
// message type is unknown to the registry fail construction: the catalog is
// static, so a miss is a bootstrap bug, not a runtime condition.
func NewRouter(catalog *Catalog, registry *msgs.Registry, deps RouterDeps) (*Router, error) {
	if catalog == nil {
		return nil, fmt.Errorf("servicebus: handler catalog is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("servicebus: message registry is required")
	}
	if err := registry.Freeze(); err != nil {
		return nil, err
	}

	r := &Router{
		registry:  registry,
		executors: make(map[string][]*Executor),
	}

	for _, d := range catalog.Descriptors() {
		if _, ok := registry.KindOf(d.MessageType); !ok {
			return nil, fmt.Errorf("servicebus: handler registered for unknown message type %q", d.MessageType)
		}
		r.executors[d.MessageType] = append(r.executors[d.MessageType], &Executor{
			descriptor: d,
			validator:  deps.Validator,
			resolvers:  deps.Resolvers,
		})
	}

	return r, nil
}

// Match returns the executors for the message, in deterministic order:
// walking the supertype chain rootmost first, preserving registration order
// within each type. Unregistered message types match nothing.
func (r *Router) Match(m msgs.Message) []*Executor {
	key, ok := r.registry.KeyOf(m)
	if !ok {
		return nil
	}

	var matched []*Executor
	for _, lineageKey := range r.registry.Lineage(key) {
		matched = append(matched, r.executors[lineageKey]...)
	}
	return matched
}
