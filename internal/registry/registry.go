// Package registry owns the set of configured provider adapters, the
// active-provider selection, and the last-known availability map.
// Selection and availability are orthogonal: a disconnected provider may
// stay active pending reconnection.
package registry

import (
	"sort"
	"sync"

	"modelhub/internal/config"
	"modelhub/internal/logging"
	"modelhub/internal/provider"
)

// Factory builds the concrete adapter for a provider type. The wiring
// layer supplies it so this package never branches on backend kinds.
type Factory func(t provider.Type, cfg provider.Config) (provider.Provider, error)

// Registry is the single owner of provider configuration state. All maps
// are guarded by one lock and entries are replaced wholesale.
type Registry struct {
	mu           sync.Mutex
	adapters     map[provider.Type]provider.Provider
	configs      map[provider.Type]provider.Config
	availability map[provider.Type]provider.AvailabilityResult
	active       provider.Type

	factory Factory
	logger  *logging.Logger
}

// New creates an empty registry
func New(factory Factory, logger *logging.Logger) *Registry {
	return &Registry{
		adapters:     make(map[provider.Type]provider.Provider),
		configs:      make(map[provider.Type]provider.Config),
		availability: make(map[provider.Type]provider.AvailabilityResult),
		factory:      factory,
		logger:       logger,
	}
}

// Register configures a provider type and builds its adapter. An
// existing registration for the same type is replaced.
func (r *Registry) Register(t provider.Type, cfg provider.Config) error {
	if !t.IsValid() {
		return provider.Errorf(provider.KindUnknownProvider, "invalid provider type %q", t)
	}
	if cfg.Endpoint != "" {
		if err := config.ValidateEndpoint(cfg.Endpoint); err != nil {
			return provider.WrapError(provider.KindConfiguration, "invalid endpoint", err)
		}
	}

	adapter, err := r.factory(t, cfg)
	if err != nil {
		return provider.WrapError(provider.KindConfiguration, "failed to build adapter", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[t] = adapter
	r.configs[t] = cfg

	r.logger.Info("registry.registered", "Provider registered", map[string]interface{}{
		"provider": t.String(),
		"endpoint": cfg.Endpoint,
	})

	return nil
}

// Types returns the registered provider types in stable order
func (r *Registry) Types() []provider.Type {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]provider.Type, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Adapter resolves the adapter for a type
func (r *Registry) Adapter(t provider.Type) (provider.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	adapter, ok := r.adapters[t]
	if !ok {
		return nil, provider.Errorf(provider.KindUnknownProvider, "provider %q is not registered", t)
	}
	return adapter, nil
}

// Resolve returns the adapter for t, falling back to the active provider
// when t is empty.
func (r *Registry) Resolve(t provider.Type) (provider.Type, provider.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t == "" {
		t = r.active
	}
	if t == "" {
		return "", nil, provider.NewError(provider.KindUnknownProvider, "no active provider selected")
	}

	adapter, ok := r.adapters[t]
	if !ok {
		return "", nil, provider.Errorf(provider.KindUnknownProvider, "provider %q is not registered", t)
	}
	return t, adapter, nil
}

// Active returns the currently selected provider type (may be empty)
func (r *Registry) Active() provider.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// SetActive selects the active provider. Selection succeeds even when
// the provider is currently unavailable.
func (r *Registry) SetActive(t provider.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[t]; !ok {
		return provider.Errorf(provider.KindUnknownProvider, "provider %q is not registered", t)
	}

	r.active = t
	r.logger.Info("registry.active_changed", "Active provider changed", map[string]interface{}{
		"provider": t.String(),
	})
	return nil
}

// Config returns the stored configuration for a type
func (r *Registry) Config(t provider.Type) (provider.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[t]
	if !ok {
		return provider.Config{}, provider.Errorf(provider.KindUnknownProvider, "provider %q is not registered", t)
	}
	return cfg, nil
}

// UpdateConfig validates and applies a new configuration, rebuilding the
// adapter. Endpoint validation failure is synchronous; reachability of
// the new endpoint is only learned through the next discovery scan.
func (r *Registry) UpdateConfig(t provider.Type, cfg provider.Config) error {
	r.mu.Lock()
	registered := false
	if _, ok := r.adapters[t]; ok {
		registered = true
	}
	r.mu.Unlock()

	if !registered {
		return provider.Errorf(provider.KindUnknownProvider, "provider %q is not registered", t)
	}
	if cfg.Endpoint != "" {
		if err := config.ValidateEndpoint(cfg.Endpoint); err != nil {
			return provider.WrapError(provider.KindConfiguration, "invalid endpoint", err)
		}
	}

	adapter, err := r.factory(t, cfg)
	if err != nil {
		return provider.WrapError(provider.KindConfiguration, "failed to rebuild adapter", err)
	}

	r.mu.Lock()
	r.adapters[t] = adapter
	r.configs[t] = cfg
	r.mu.Unlock()

	r.logger.Info("registry.config_updated", "Provider configuration updated", map[string]interface{}{
		"provider": t.String(),
		"endpoint": cfg.Endpoint,
	})

	return nil
}

// Availability returns the most recent result for a type. When the type
// was never probed, the zero result (unavailable, nil LastProbedAt) is
// returned.
func (r *Registry) Availability(t provider.Type) provider.AvailabilityResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.availability[t]
}

// AvailabilityMap returns a copy of the full availability map
func (r *Registry) AvailabilityMap() map[provider.Type]provider.AvailabilityResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[provider.Type]provider.AvailabilityResult, len(r.availability))
	for t, a := range r.availability {
		out[t] = a
	}
	return out
}

// ReplaceAvailability swaps the availability map wholesale so readers
// never observe a half-updated snapshot.
func (r *Registry) ReplaceAvailability(results map[provider.Type]provider.AvailabilityResult) {
	copied := make(map[provider.Type]provider.AvailabilityResult, len(results))
	for t, a := range results {
		copied[t] = a
	}

	r.mu.Lock()
	r.availability = copied
	r.mu.Unlock()
}

// Descriptors returns the descriptor of every registered adapter
func (r *Registry) Descriptors() []provider.Descriptor {
	r.mu.Lock()
	adapters := make([]provider.Provider, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.mu.Unlock()

	descriptors := make([]provider.Descriptor, len(adapters))
	for i, a := range adapters {
		descriptors[i] = a.Describe()
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Type < descriptors[j].Type })
	return descriptors
}
