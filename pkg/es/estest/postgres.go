//go:build integration

package estest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/angelmondragon/eventcore/pkg/config"
	"github.com/angelmondragon/eventcore/pkg/db"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"github.com/angelmondragon/eventcore/pkg/migrate"
)

const postgresImage = "postgres:16-alpine"

// OpenPostgres starts a throwaway Postgres container, applies the embedded
// migrations and returns a client bound to it. Docker must be reachable.
func OpenPostgres(t *testing.T) *db.Client {
	t.Helper()
	ctx := t.Context()

	pg, err := testcontainers.Run(
		ctx, postgresImage,
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "eventcore",
			"POSTGRES_PASSWORD": "eventcore",
			"POSTGRES_DB":       "eventcore",
		}),
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pg); err != nil {
			t.Errorf("failed to terminate postgres container: %s", err.Error())
		}
	})

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://eventcore:eventcore@%s:%s/eventcore?sslmode=disable", host, port.Port())
	client, err := db.New(ctx, config.DBConfig{Driver: "postgres", DSN: dsn, MaxOpenConns: 8}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	sqlDB, err := client.DB().DB()
	require.NoError(t, err)
	applied, err := migrate.Up(ctx, sqlDB, nil)
	require.NoError(t, err)
	t.Logf("postgres %s:%s, %d migrations applied", host, port.Port(), len(applied))
	return client
}
