package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
	"solana-nft-custody/internal/storage/migrations"
)

// setupTestDB creates a PostgreSQL container for testing and applies migrations.
// Returns a cleanup function that must be called after tests complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	// Run migrations
	runMigrations(t, ctx, pool)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// runMigrations applies the embedded goose migrations.
func runMigrations(t *testing.T, ctx context.Context, pool *Pool) {
	t.Helper()

	err := migrations.RunPostgresMigrations(ctx, pool.Pool)
	require.NoError(t, err, "failed to apply migrations")

	version, err := migrations.PostgresVersion(ctx, pool.Pool)
	require.NoError(t, err)
	t.Logf("Applied migrations up to version %d", version)
}

// withTx runs fn in a transaction and fails the test on error.
func withTx(t *testing.T, db *DB, fn func(ctx context.Context, tx storage.Tx) error) {
	t.Helper()
	require.NoError(t, db.WithTx(context.Background(), fn))
}

// key returns a deterministic non-zero public key.
func key(b byte) solana.PublicKey {
	var pk solana.PublicKey
	pk[0] = b
	pk[31] = b
	return pk
}
