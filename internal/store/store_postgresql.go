package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"aigateway/internal/core"
)

// PostgreSQLStore stores routing configuration in PostgreSQL.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates the configuration tables if needed.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS gateway_endpoints (
			name TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			updated_at BIGINT NOT NULL,
			data JSONB NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway_endpoints table: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS gateway_credentials (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			sealed_secret BYTEA NOT NULL,
			metadata JSONB NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway_credentials table: %w", err)
	}

	return &PostgreSQLStore{pool: pool}, nil
}

// Load reads every endpoint and credential.
func (s *PostgreSQLStore) Load(ctx context.Context) (*State, error) {
	state := &State{}

	rows, err := s.pool.Query(ctx, "SELECT data FROM gateway_endpoints ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan endpoint row: %w", err)
		}
		ep, err := deserializeEndpoint(payload)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode endpoint row: %w", err)
		}
		state.Endpoints = append(state.Endpoints, ep)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate endpoint rows: %w", err)
	}

	credRows, err := s.pool.Query(ctx,
		"SELECT id, provider, created_at, sealed_secret, metadata FROM gateway_credentials ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer credRows.Close()
	for credRows.Next() {
		var (
			rec       CredentialRecord
			provider  string
			createdAt int64
			metadata  []byte
		)
		if err := credRows.Scan(&rec.ID, &provider, &createdAt, &rec.Sealed, &metadata); err != nil {
			return nil, fmt.Errorf("scan credential row: %w", err)
		}
		rec.ProviderKind = core.ProviderKind(provider)
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		if rec.Metadata, err = deserializeMetadata(metadata); err != nil {
			return nil, err
		}
		state.Credentials = append(state.Credentials, rec)
	}
	if err := credRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credential rows: %w", err)
	}
	return state, nil
}

// PutEndpoint upserts an endpoint.
func (s *PostgreSQLStore) PutEndpoint(ctx context.Context, ep core.Endpoint) error {
	payload, err := serializeEndpoint(ep)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO gateway_endpoints (name, provider, updated_at, data)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (name) DO UPDATE SET provider = EXCLUDED.provider,
			updated_at = EXCLUDED.updated_at, data = EXCLUDED.data
	`, ep.Name, string(ep.ProviderKind), ep.UpdatedAt.UnixNano(), payload)
	if err != nil {
		return fmt.Errorf("upsert endpoint: %w", err)
	}
	return nil
}

// DeleteEndpoint removes an endpoint row.
func (s *PostgreSQLStore) DeleteEndpoint(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM gateway_endpoints WHERE name = $1", name); err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	return nil
}

// PutCredential upserts a sealed credential.
func (s *PostgreSQLStore) PutCredential(ctx context.Context, rec CredentialRecord) error {
	metadata, err := serializeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO gateway_credentials (id, provider, created_at, sealed_secret, metadata)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (id) DO UPDATE SET provider = EXCLUDED.provider,
			sealed_secret = EXCLUDED.sealed_secret, metadata = EXCLUDED.metadata
	`, rec.ID, string(rec.ProviderKind), rec.CreatedAt.UnixNano(), rec.Sealed, metadata)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// DeleteCredential removes a credential row.
func (s *PostgreSQLStore) DeleteCredential(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM gateway_credentials WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// Close is a no-op; pool lifecycle is managed by storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}
