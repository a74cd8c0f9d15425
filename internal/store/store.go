// Package store persists endpoints and credentials so the routing snapshot
// survives restarts and can be shared between gateway instances.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"aigateway/internal/core"
)

// CredentialRecord is the persisted form of a credential. The secret is
// stored sealed; this package never sees plaintext secret material.
type CredentialRecord struct {
	ID           string            `json:"id"`
	ProviderKind core.ProviderKind `json:"provider"`
	Sealed       []byte            `json:"-"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// State is everything a store holds.
type State struct {
	Endpoints   []core.Endpoint
	Credentials []CredentialRecord
}

// Store defines persistence operations for routing configuration.
// Put operations are upserts; validation happens in the registry and vault.
type Store interface {
	Load(ctx context.Context) (*State, error)
	PutEndpoint(ctx context.Context, ep core.Endpoint) error
	DeleteEndpoint(ctx context.Context, name string) error
	PutCredential(ctx context.Context, rec CredentialRecord) error
	DeleteCredential(ctx context.Context, id string) error
	Close() error
}

func serializeEndpoint(ep core.Endpoint) ([]byte, error) {
	b, err := json.Marshal(ep)
	if err != nil {
		return nil, fmt.Errorf("marshal endpoint: %w", err)
	}
	return b, nil
}

func deserializeEndpoint(raw []byte) (core.Endpoint, error) {
	var ep core.Endpoint
	if len(raw) == 0 {
		return ep, fmt.Errorf("empty endpoint payload")
	}
	if err := json.Unmarshal(raw, &ep); err != nil {
		return ep, fmt.Errorf("unmarshal endpoint: %w", err)
	}
	return ep, nil
}

func serializeMetadata(md map[string]string) ([]byte, error) {
	if md == nil {
		md = map[string]string{}
	}
	b, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("marshal credential metadata: %w", err)
	}
	return b, nil
}

func deserializeMetadata(raw []byte) (map[string]string, error) {
	md := map[string]string{}
	if len(raw) == 0 {
		return md, nil
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("unmarshal credential metadata: %w", err)
	}
	return md, nil
}
