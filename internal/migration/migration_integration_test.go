//go:build integration

package migration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRunMigrationsEnforcesSingleActiveSubscription(t *testing.T) {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("modulebilling"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunMigrations(db))
	// Re-running is a no-op.
	require.NoError(t, RunMigrations(db))

	insert := `INSERT INTO module_subscriptions
		(id, store_id, module_id, status, start_date, end_date, next_billing_date, monthly_price, currency)
		VALUES ($1, 7, 'premium-club', $2, now(), now(), now(), 49.90, 'ILS')`
	_, err = db.ExecContext(ctx, insert, 1, "ACTIVE")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, 2, "CANCELLED")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, 3, "ACTIVE")
	require.Error(t, err)
}
