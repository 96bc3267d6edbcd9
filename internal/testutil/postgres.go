//go:build integration

package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"kimi/internal/infra"
)

// NewPostgres boots a throwaway Postgres 16 container and returns a migrated
// pool with room for concurrent transactions.
func NewPostgres(t testing.TB) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("kimi"),
		postgres.WithUsername("kimi"),
		postgres.WithPassword("kimi"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := infra.InitPostgresql(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { infra.ClosePostgresql(db) })

	require.NoError(t, infra.Migrate(db))
	return db
}
