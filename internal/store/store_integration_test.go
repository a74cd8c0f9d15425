//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"aigateway/internal/storage"
)

func TestPostgreSQLStore_Integration(t *testing.T) {
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("aigateway_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := storage.NewPostgreSQL(ctx, storage.PostgreSQLConfig{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	s, err := NewPostgreSQLStore(ctx, conn.PostgreSQLPool())
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestMongoDBStore_Integration(t *testing.T) {
	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	conn, err := storage.NewMongoDB(ctx, storage.MongoDBConfig{URL: url, Database: "aigateway_test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	s, err := NewMongoDBStore(conn.MongoDatabase())
	require.NoError(t, err)
	exerciseStore(t, s)
}
