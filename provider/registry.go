package provider

import (
	"fmt"
	"sort"
	"sync"
)

// FactoryRegistry maps provider types to constructors. Gateway packages add
// themselves from init().
type FactoryRegistry struct {
	factories map[ProviderType]ProviderFactory
	mu        sync.RWMutex
}

// NewFactoryRegistry creates an empty factory registry
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{
		factories: make(map[ProviderType]ProviderFactory),
	}
}

// Register adds a payment provider factory to the registry
func (r *FactoryRegistry) Register(t ProviderType, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = factory
}

// Get retrieves a payment provider factory by type
func (r *FactoryRegistry) Get(t ProviderType) (ProviderFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[t]
	if !exists {
		return nil, fmt.Errorf("%w: no factory for '%s'", ErrProviderNotFound, t)
	}
	return factory, nil
}

// Create builds and initializes a provider from its configuration
func (r *FactoryRegistry) Create(t ProviderType, config map[string]string) (PaymentProvider, error) {
	factory, err := r.Get(t)
	if err != nil {
		return nil, err
	}

	p := factory()
	if err := p.Initialize(config); err != nil {
		return nil, err
	}
	return p, nil
}

// Types returns every type with a registered factory, sorted
func (r *FactoryRegistry) Types() []ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]ProviderType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// DefaultFactories is the global default factory registry
var DefaultFactories = NewFactoryRegistry()

// RegisterFactory registers a provider factory with the default registry
func RegisterFactory(t ProviderType, factory ProviderFactory) {
	DefaultFactories.Register(t, factory)
}
