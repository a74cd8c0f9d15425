// Package providers assembles the provider adapter set: one adapter per
// provider kind, built through a factory that provider packages register with.
package providers

import (
	"fmt"
	"net/http"
	"sort"

	"aigateway/internal/core"
	"aigateway/internal/httpclient"
	"aigateway/internal/pkg/llmclient"
)

// BuildOptions are the shared knobs every adapter builder receives.
type BuildOptions struct {
	// BaseURL overrides the provider's default API root when set
	BaseURL string

	// HTTPClient replaces the pooled default client (tests use httptest clients)
	HTTPClient *http.Client

	// CircuitBreaker configures the per-provider breaker; nil disables it
	CircuitBreaker *llmclient.CircuitBreakerConfig

	// Transport tunes the pooled clients used when HTTPClient is nil
	Transport *httpclient.ClientConfig
}

// Builder creates an adapter for one provider kind
type Builder func(opts BuildOptions) (core.Adapter, error)

// Registration binds a provider kind to its builder. Provider packages
// export one Registration per kind they serve.
type Registration struct {
	Kind core.ProviderKind
	New  Builder
}

// ProviderFactory holds the registered builders
type ProviderFactory struct {
	builders map[core.ProviderKind]Builder
}

// NewProviderFactory creates an empty factory
func NewProviderFactory() *ProviderFactory {
	return &ProviderFactory{builders: make(map[core.ProviderKind]Builder)}
}

// Add registers every given registration; a later registration for the
// same kind replaces an earlier one
func (f *ProviderFactory) Add(regs ...Registration) {
	for _, r := range regs {
		f.builders[r.Kind] = r.New
	}
}

// Create instantiates the adapter for kind
func (f *ProviderFactory) Create(kind core.ProviderKind, opts BuildOptions) (core.Adapter, error) {
	builder, ok := f.builders[kind]
	if !ok {
		return nil, fmt.Errorf("unknown provider kind: %s", kind)
	}
	adapter, err := builder(opts)
	if err != nil {
		return nil, fmt.Errorf("build %s adapter: %w", kind, err)
	}
	if adapter.Kind() != kind {
		return nil, fmt.Errorf("builder for %s returned a %s adapter", kind, adapter.Kind())
	}
	return adapter, nil
}

// ListRegistered returns the registered provider kinds in sorted order
func (f *ProviderFactory) ListRegistered() []core.ProviderKind {
	kinds := make([]core.ProviderKind, 0, len(f.builders))
	for k := range f.builders {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// BuildSet creates one adapter per registered kind. optsFor supplies the
// options for each kind and may be nil.
func (f *ProviderFactory) BuildSet(optsFor func(core.ProviderKind) BuildOptions) (*Set, error) {
	adapters := make([]core.Adapter, 0, len(f.builders))
	for _, kind := range f.ListRegistered() {
		var opts BuildOptions
		if optsFor != nil {
			opts = optsFor(kind)
		}
		a, err := f.Create(kind, opts)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return NewSet(adapters...), nil
}
