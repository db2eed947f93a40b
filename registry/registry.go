// Package registry maps (scheme, network) pairs to their adapters.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/layer-3/ferryman/core"
	"github.com/layer-3/ferryman/ports"
)

type kind struct {
	scheme  string
	network string
}

// Registry is the scheme registry. Registration happens at startup; resolution
// is a pure lookup safe for unbounded concurrent calls.
type Registry struct {
	mu       sync.RWMutex
	adapters map[kind]ports.SchemeAdapter
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		adapters: make(map[kind]ports.SchemeAdapter),
	}
}

// Register binds an adapter to a (scheme, network) pair. A pair that is
// already bound is rejected, so a misconfigured deployment cannot silently
// route funds to the wrong adapter.
func (r *Registry) Register(scheme, network string, adapter ports.SchemeAdapter) error {
	if scheme == "" || network == "" {
		return fmt.Errorf("scheme and network are required")
	}
	if adapter == nil {
		return fmt.Errorf("adapter is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := kind{scheme: scheme, network: network}
	if _, exists := r.adapters[k]; exists {
		return fmt.Errorf("%s on %s: %w", scheme, network, core.ErrSchemeRegistered)
	}

	r.adapters[k] = adapter
	return nil
}

// Resolve returns the adapter bound to a (scheme, network) pair.
func (r *Registry) Resolve(scheme, network string) (ports.SchemeAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[kind{scheme: scheme, network: network}]
	if !ok {
		return nil, fmt.Errorf("%s on %s: %w", scheme, network, core.ErrUnsupportedScheme)
	}

	return adapter, nil
}

// Kinds lists the registered pairs in a stable order, for the discovery
// endpoint.
func (r *Registry) Kinds() []core.SupportedKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]core.SupportedKind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, core.SupportedKind{
			X402Version: core.X402Version,
			Scheme:      k.scheme,
			Network:     k.network,
		})
	}

	sort.Slice(kinds, func(i, j int) bool {
		if kinds[i].Scheme != kinds[j].Scheme {
			return kinds[i].Scheme < kinds[j].Scheme
		}
		return kinds[i].Network < kinds[j].Network
	})

	return kinds
}
