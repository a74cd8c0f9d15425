package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"aigateway/internal/core"
)

// SQLiteStore stores routing configuration in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the configuration tables if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS gateway_endpoints (
			name TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			data TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway_endpoints table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS gateway_credentials (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			sealed_secret BLOB NOT NULL,
			metadata TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway_credentials table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load reads every endpoint and credential. The two queries run one after the
// other because the SQLite pool holds a single connection.
func (s *SQLiteStore) Load(ctx context.Context) (*State, error) {
	endpoints, err := s.loadEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	credentials, err := s.loadCredentials(ctx)
	if err != nil {
		return nil, err
	}
	return &State{Endpoints: endpoints, Credentials: credentials}, nil
}

func (s *SQLiteStore) loadEndpoints(ctx context.Context) ([]core.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM gateway_endpoints ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []core.Endpoint
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan endpoint row: %w", err)
		}
		ep, err := deserializeEndpoint([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("decode endpoint row: %w", err)
		}
		endpoints = append(endpoints, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate endpoint rows: %w", err)
	}
	return endpoints, nil
}

func (s *SQLiteStore) loadCredentials(ctx context.Context) ([]CredentialRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, provider, created_at, sealed_secret, metadata FROM gateway_credentials ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var records []CredentialRecord
	for rows.Next() {
		var (
			rec       CredentialRecord
			provider  string
			createdAt int64
			metadata  string
		)
		if err := rows.Scan(&rec.ID, &provider, &createdAt, &rec.Sealed, &metadata); err != nil {
			return nil, fmt.Errorf("scan credential row: %w", err)
		}
		rec.ProviderKind = core.ProviderKind(provider)
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		if rec.Metadata, err = deserializeMetadata([]byte(metadata)); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credential rows: %w", err)
	}
	return records, nil
}

// PutEndpoint upserts an endpoint.
func (s *SQLiteStore) PutEndpoint(ctx context.Context, ep core.Endpoint) error {
	payload, err := serializeEndpoint(ep)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO gateway_endpoints (name, provider, updated_at, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET provider = excluded.provider,
			updated_at = excluded.updated_at, data = excluded.data
	`, ep.Name, string(ep.ProviderKind), ep.UpdatedAt.UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("upsert endpoint: %w", err)
	}
	return nil
}

// DeleteEndpoint removes an endpoint row.
func (s *SQLiteStore) DeleteEndpoint(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM gateway_endpoints WHERE name = ?", name); err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	return nil
}

// PutCredential upserts a sealed credential.
func (s *SQLiteStore) PutCredential(ctx context.Context, rec CredentialRecord) error {
	metadata, err := serializeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO gateway_credentials (id, provider, created_at, sealed_secret, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET provider = excluded.provider,
			sealed_secret = excluded.sealed_secret, metadata = excluded.metadata
	`, rec.ID, string(rec.ProviderKind), rec.CreatedAt.UnixNano(), rec.Sealed, string(metadata))
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// DeleteCredential removes a credential row.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM gateway_credentials WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// Close is a no-op; DB lifecycle is managed by storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}
