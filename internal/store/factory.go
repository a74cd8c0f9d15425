package store

import (
	"context"
	"errors"
	"fmt"

	"aigateway/internal/storage"
)

// Result holds the initialized store and optional owned storage.
type Result struct {
	Store   Store
	Storage storage.Storage
}

// Close releases resources held by the store.
func (r *Result) Close() error {
	var errs []error
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New opens the backend described by cfg and creates a store on it.
func New(ctx context.Context, cfg storage.Config) (*Result, error) {
	if cfg.Type == storage.TypeMemory {
		return &Result{Store: NewMemoryStore()}, nil
	}
	conn, err := storage.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	st, err := createStore(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Result{Store: st, Storage: conn}, nil
}

// NewWithSharedStorage creates a store on a connection owned by the caller.
// A nil connection yields an in-memory store.
func NewWithSharedStorage(ctx context.Context, shared storage.Storage) (*Result, error) {
	if shared == nil {
		return &Result{Store: NewMemoryStore()}, nil
	}
	st, err := createStore(ctx, shared)
	if err != nil {
		return nil, err
	}
	return &Result{Store: st}, nil
}

func createStore(ctx context.Context, conn storage.Storage) (Store, error) {
	switch conn.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(conn.SQLiteDB())
	case storage.TypePostgreSQL:
		pool := conn.PostgreSQLPool()
		if pool == nil {
			return nil, fmt.Errorf("PostgreSQL pool is nil")
		}
		return NewPostgreSQLStore(ctx, pool)
	case storage.TypeMongoDB:
		db := conn.MongoDatabase()
		if db == nil {
			return nil, fmt.Errorf("MongoDB database is nil")
		}
		return NewMongoDBStore(db)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", conn.Type())
	}
}
