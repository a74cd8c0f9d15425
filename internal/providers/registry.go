package providers

import (
	"fmt"
	"sort"
	"strings"

	"aigateway/internal/core"
)

// Pruner is implemented by adapters that keep per-credential state, such as
// cached clients or circuit breakers.
type Pruner interface {
	// Prune drops the state of every credential keep rejects.
	Prune(keep func(credentialID string) bool)
}

// Set is the immutable provider adapter set, keyed by provider kind.
type Set struct {
	adapters map[core.ProviderKind]core.Adapter
}

// NewSet builds a set from adapters; a later adapter for the same kind wins.
func NewSet(adapters ...core.Adapter) *Set {
	m := make(map[core.ProviderKind]core.Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Kind()] = a
	}
	return &Set{adapters: m}
}

// Adapter returns the adapter for kind.
func (s *Set) Adapter(kind core.ProviderKind) (core.Adapter, bool) {
	a, ok := s.adapters[kind]
	return a, ok
}

// KnownKind reports whether an adapter serves kind.
func (s *Set) KnownKind(kind core.ProviderKind) bool {
	_, ok := s.adapters[kind]
	return ok
}

// Kinds returns the served provider kinds in sorted order.
func (s *Set) Kinds() []core.ProviderKind {
	kinds := make([]core.ProviderKind, 0, len(s.adapters))
	for k := range s.adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// CheckModel reports whether the adapter for kind can serve modelID for at
// least one capability. It satisfies the endpoint registry's ModelChecker.
func (s *Set) CheckModel(kind core.ProviderKind, modelID string) error {
	a, ok := s.adapters[kind]
	if !ok {
		return core.NewCapabilityMismatchError(kind, fmt.Sprintf("unknown provider %q; known providers: %s", kind, s.kindList()))
	}
	for _, c := range a.Capabilities().List() {
		if a.SupportsModel(c, modelID) {
			return nil
		}
	}
	return core.NewCapabilityMismatchError(kind, fmt.Sprintf("model %q is not served by provider %q", modelID, kind))
}

// Supports reports whether the adapter for kind serves capability for modelID.
func (s *Set) Supports(kind core.ProviderKind, c core.Capability, modelID string) bool {
	a, ok := s.adapters[kind]
	return ok && a.Capabilities().Has(c) && a.SupportsModel(c, modelID)
}

// PassthroughTarget returns the passthrough view of the adapter for kind.
func (s *Set) PassthroughTarget(kind core.ProviderKind) (core.PassthroughTarget, bool) {
	a, ok := s.adapters[kind]
	if !ok {
		return nil, false
	}
	t, ok := a.(core.PassthroughTarget)
	return t, ok
}

// Prune forwards to every adapter that keeps per-credential state.
func (s *Set) Prune(keep func(credentialID string) bool) {
	for _, a := range s.adapters {
		if p, ok := a.(Pruner); ok {
			p.Prune(keep)
		}
	}
}

func (s *Set) kindList() string {
	kinds := s.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
