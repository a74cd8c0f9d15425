package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SQLite has a default limit of 999 bindable parameters per query (SQLITE_MAX_VARIABLE_NUMBER).
// With 14 columns per usage entry, we can safely insert up to 71 entries per batch.
const (
	maxSQLiteParams      = 999
	columnsPerUsageEntry = 14
	maxEntriesPerBatch   = maxSQLiteParams / columnsPerUsageEntry
)

// SQLiteStore implements UsageStore for SQLite databases.
type SQLiteStore struct {
	db            *sql.DB
	retention *retention
}

// NewSQLiteStore creates a new SQLite usage store.
// It creates the usage table if it doesn't exist and starts
// a background retention sweeper if retention is configured.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS gateway_usage (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			provider_id TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL,
			endpoint TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			operation TEXT NOT NULL,
			status TEXT NOT NULL,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_gateway_usage_timestamp ON gateway_usage(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_gateway_usage_request_id ON gateway_usage(request_id)",
		"CREATE INDEX IF NOT EXISTS idx_gateway_usage_endpoint ON gateway_usage(endpoint)",
		"CREATE INDEX IF NOT EXISTS idx_gateway_usage_provider ON gateway_usage(provider)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
	}
	store.retention = startRetention(retentionDays, retentionInterval, store.purge)

	return store, nil
}

// WriteBatch writes multiple usage entries to SQLite using batch insert.
// Entries are chunked to stay within SQLite's parameter limit.
func (s *SQLiteStore) WriteBatch(ctx context.Context, entries []*UsageEntry) error {
	if len(entries) == 0 {
		return nil
	}

	for i := 0; i < len(entries); i += maxEntriesPerBatch {
		end := min(i+maxEntriesPerBatch, len(entries))
		chunk := entries[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]interface{}, 0, len(chunk)*columnsPerUsageEntry)
		for j, e := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			values = append(values,
				e.ID,
				e.RequestID,
				e.ProviderID,
				e.Timestamp.UTC().Format(time.RFC3339Nano),
				e.Endpoint,
				e.Provider,
				e.Model,
				e.Operation,
				e.Status,
				e.LatencyMs,
				e.Attempts,
				e.InputTokens,
				e.OutputTokens,
				e.TotalTokens,
			)
		}

		query := `INSERT OR IGNORE INTO gateway_usage (id, request_id, provider_id, timestamp, endpoint,
			provider, model, operation, status, latency_ms, attempts,
			input_tokens, output_tokens, total_tokens) VALUES ` +
			strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert usage batch %d: %w", i/maxEntriesPerBatch, err)
		}
	}

	return nil
}

// Flush is a no-op for SQLite as writes are synchronous.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the retention sweeper.
// Note: We don't close the DB here as it's managed by the storage layer.
// Safe to call multiple times.
func (s *SQLiteStore) Close() error {
	s.retention.stop()
	return nil
}

// purge deletes usage entries recorded before cutoff.
func (s *SQLiteStore) purge(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM gateway_usage WHERE timestamp < ?", cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
