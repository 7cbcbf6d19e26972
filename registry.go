package x402

import "sync"

// schemeNamed is the common surface of the three handler roles.
type schemeNamed interface {
	Scheme() string
}

type registryEntry[H schemeNamed] struct {
	pattern Network
	handler H
}

// Registry maps (scheme, network) pairs to handlers of one role.
// Registrations keep insertion order; a duplicate (scheme, pattern)
// replaces the earlier handler in place. Resolution prefers an exact
// network match and falls back to family wildcards, so a handler
// registered for "eip155:8453" shadows one for "eip155:*".
type Registry[H schemeNamed] struct {
	mu      sync.RWMutex
	entries []registryEntry[H]
}

func NewRegistry[H schemeNamed]() *Registry[H] {
	return &Registry[H]{}
}

// Register binds handler to the network pattern. pattern may be a
// concrete network or a family wildcard like "eip155:*".
func (r *Registry[H]) Register(pattern Network, handler H) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.pattern == pattern && e.handler.Scheme() == handler.Scheme() {
			r.entries[i].handler = handler
			return
		}
	}
	r.entries = append(r.entries, registryEntry[H]{pattern: pattern, handler: handler})
}

// Resolve finds the handler for (scheme, network). Exact network
// registrations win over wildcard ones regardless of insertion order.
func (r *Registry[H]) Resolve(scheme string, network Network) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.pattern == network && e.handler.Scheme() == scheme {
			return e.handler, true
		}
	}
	for _, e := range r.entries {
		if e.pattern.IsWildcard() && network.Matches(e.pattern) && e.handler.Scheme() == scheme {
			return e.handler, true
		}
	}
	var zero H
	return zero, false
}

// Kinds lists every registration as a supported kind, in registration
// order.
func (r *Registry[H]) Kinds() []SupportedKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]SupportedKind, 0, len(r.entries))
	for _, e := range r.entries {
		kinds = append(kinds, SupportedKind{Scheme: e.handler.Scheme(), Network: e.pattern})
	}
	return kinds
}

// Len returns the number of registrations.
func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
