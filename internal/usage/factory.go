package usage

import (
	"context"
	"fmt"
	"log/slog"

	"aigateway/internal/storage"
)

// Result holds the usage recorder and reader.
// The caller is responsible for calling Close() to release resources.
type Result struct {
	Recorder Recorder
	// Reader is nil when usage is disabled or not persisted
	Reader UsageReader
}

// Close flushes and stops the recorder. The storage connection is shared
// and is closed by its owner. Safe to call multiple times.
func (r *Result) Close() error {
	if r.Recorder == nil {
		return nil
	}
	if err := r.Recorder.Close(); err != nil {
		return fmt.Errorf("recorder close: %w", err)
	}
	return nil
}

// New creates a usage recorder writing to the shared connection conn.
// If tracking is disabled, or conn is nil (in-memory configuration), it
// returns Discard.
func New(ctx context.Context, conn storage.Storage, cfg Config) (*Result, error) {
	if !cfg.Enabled {
		return &Result{Recorder: Discard}, nil
	}
	if conn == nil {
		slog.Warn("usage tracking enabled without a persistent backend store; usage will not be recorded")
		return &Result{Recorder: Discard}, nil
	}

	usageStore, reader, err := createUsageStore(ctx, conn, cfg.RetentionDays)
	if err != nil {
		return nil, err
	}
	return &Result{
		Recorder: NewBatchRecorder(usageStore, cfg),
		Reader: reader,
	}, nil
}

// createUsageStore creates the UsageStore and UsageReader for the backend.
func createUsageStore(ctx context.Context, conn storage.Storage, retentionDays int) (UsageStore, UsageReader, error) {
	switch conn.Type() {
	case storage.TypeSQLite:
		st, err := NewSQLiteStore(conn.SQLiteDB(), retentionDays)
		if err != nil {
			return nil, nil, err
		}
		rd, err := NewSQLiteReader(conn.SQLiteDB())
		return st, rd, err

	case storage.TypePostgreSQL:
		pool := conn.PostgreSQLPool()
		if pool == nil {
			return nil, nil, fmt.Errorf("PostgreSQL pool is nil")
		}
		st, err := NewPostgreSQLStore(ctx, pool, retentionDays)
		if err != nil {
			return nil, nil, err
		}
		rd, err := NewPostgreSQLReader(pool)
		return st, rd, err

	case storage.TypeMongoDB:
		db := conn.MongoDatabase()
		if db == nil {
			return nil, nil, fmt.Errorf("MongoDB database is nil")
		}
		st, err := NewMongoDBStore(ctx, db, retentionDays)
		if err != nil {
			return nil, nil, err
		}
		rd, err := NewMongoDBReader(db)
		return st, rd, err

	default:
		return nil, nil, fmt.Errorf("unknown storage type: %s", conn.Type())
	}
}

func applyDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return cfg
}
