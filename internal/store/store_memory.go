package store

import (
	"context"
	"sort"
	"sync"

	"aigateway/internal/core"
)

// MemoryStore keeps configuration in process memory. It is the default when
// no backend store is configured and is used heavily in tests.
type MemoryStore struct {
	mu          sync.RWMutex
	endpoints   map[string][]byte
	credentials map[string]CredentialRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		endpoints:   make(map[string][]byte),
		credentials: make(map[string]CredentialRecord),
	}
}

// Load returns a deep copy of the stored state.
func (s *MemoryStore) Load(_ context.Context) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := &State{}
	for _, raw := range s.endpoints {
		ep, err := deserializeEndpoint(raw)
		if err != nil {
			return nil, err
		}
		state.Endpoints = append(state.Endpoints, ep)
	}
	for _, rec := range s.credentials {
		state.Credentials = append(state.Credentials, cloneRecord(rec))
	}
	sort.Slice(state.Endpoints, func(i, j int) bool { return state.Endpoints[i].Name < state.Endpoints[j].Name })
	sort.Slice(state.Credentials, func(i, j int) bool { return state.Credentials[i].ID < state.Credentials[j].ID })
	return state, nil
}

// PutEndpoint stores ep, replacing any endpoint with the same name.
func (s *MemoryStore) PutEndpoint(_ context.Context, ep core.Endpoint) error {
	raw, err := serializeEndpoint(ep)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[ep.Name] = raw
	return nil
}

// DeleteEndpoint removes an endpoint; deleting a missing one is not an error.
func (s *MemoryStore) DeleteEndpoint(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.endpoints, name)
	return nil
}

// PutCredential stores rec, replacing any record with the same id.
func (s *MemoryStore) PutCredential(_ context.Context, rec CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[rec.ID] = cloneRecord(rec)
	return nil
}

// DeleteCredential removes a credential record.
func (s *MemoryStore) DeleteCredential(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, id)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneRecord(rec CredentialRecord) CredentialRecord {
	cp := rec
	cp.Sealed = append([]byte(nil), rec.Sealed...)
	cp.Metadata = make(map[string]string, len(rec.Metadata))
	for k, v := range rec.Metadata {
		cp.Metadata[k] = v
	}
	return cp
}
