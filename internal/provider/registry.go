package provider

import (
	"errors"
	"fmt"
	"sync"
)

// Static errors for provider resolution.
var (
	// ErrUnknownProvider is returned for a type outside the known enum.
	ErrUnknownProvider = errors.New("provider: unknown provider type")
	// ErrProviderUnavailable is returned when an adapter could not be
	// constructed, usually because its credential is absent.
	ErrProviderUnavailable = errors.New("provider: provider is not available")
	// ErrNoProviderConfigured is returned by ResolveDefault when no
	// vendor has a working configuration.
	ErrNoProviderConfigured = errors.New("provider: no video generation provider is configured")
)

// Credentials carries the per-vendor API keys the registry constructs
// adapters from. Empty fields simply leave that vendor unavailable;
// availability is a deployment decision, not a code change.
type Credentials struct {
	RunwayAPIKey      string
	ReplicateAPIToken string
	FalAPIKey         string
}

// factory builds one adapter instance. Injectable for tests.
type factory func() (VideoProvider, error)

// cacheEntry memoizes a construction attempt, success or failure, so
// credential validation happens once per provider type.
type cacheEntry struct {
	adapter VideoProvider
	err     error
}

// Registry resolves logical provider types to ready adapter instances.
// It is constructed once at application start and passed down explicitly;
// instances (and construction failures) are cached per type.
type Registry struct {
	mu        sync.Mutex
	factories map[Type]factory
	cache     map[Type]cacheEntry
	priority  []Type
}

// NewRegistry creates a registry backed by the real vendor adapters.
func NewRegistry(creds Credentials) *Registry {
	return &Registry{
		factories: map[Type]factory{
			TypeRunway: func() (VideoProvider, error) {
				return NewRunway(creds.RunwayAPIKey)
			},
			TypeReplicate: func() (VideoProvider, error) {
				return NewReplicate(creds.ReplicateAPIToken)
			},
			TypeFalPika: func() (VideoProvider, error) {
				return NewFalPika(creds.FalAPIKey)
			},
			TypeFalLuma: func() (VideoProvider, error) {
				return NewFalLuma(creds.FalAPIKey)
			},
		},
		cache:    make(map[Type]cacheEntry),
		priority: Types(),
	}
}

// NewRegistryWithProviders creates a registry over pre-built adapters.
// Used by tests and by deployments that stub vendors.
func NewRegistryWithProviders(providers ...VideoProvider) *Registry {
	r := &Registry{
		factories: make(map[Type]factory),
		cache:     make(map[Type]cacheEntry),
	}
	for _, p := range providers {
		p := p
		r.factories[p.Name()] = func() (VideoProvider, error) { return p, nil }
		r.priority = append(r.priority, p.Name())
	}
	return r
}

// Resolve returns a ready adapter for the given type. Construction
// failures are cached and reported as ErrProviderUnavailable.
func (r *Registry) Resolve(t Type) (VideoProvider, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(t)
}

func (r *Registry) resolveLocked(t Type) (VideoProvider, error) {
	if entry, ok := r.cache[t]; ok {
		return entry.adapter, entry.err
	}

	f, ok := r.factories[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, t)
	}

	adapter, err := f()
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, t, err)
		r.cache[t] = cacheEntry{err: err}
		return nil, err
	}
	r.cache[t] = cacheEntry{adapter: adapter}
	return adapter, nil
}

// ResolveDefault returns the first adapter that resolves in priority
// order (runway > fal-pika > replicate > fal-luma).
func (r *Registry) ResolveDefault() (VideoProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.priority {
		if adapter, err := r.resolveLocked(t); err == nil {
			return adapter, nil
		}
	}
	return nil, ErrNoProviderConfigured
}

// Available returns the provider types that resolve successfully, in
// priority order. Used for diagnostics and submission validation.
func (r *Registry) Available() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()

	available := make([]Type, 0, len(r.priority))
	for _, t := range r.priority {
		if _, err := r.resolveLocked(t); err == nil {
			available = append(available, t)
		}
	}
	return available
}
