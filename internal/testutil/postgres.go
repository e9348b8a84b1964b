package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/quill-chat/quill/db"
)

// pgIntegrationEnv gates container-backed tests: they only run when
// this variable is set, keeping the default test run Docker-free.
const pgIntegrationEnv = "QUILL_PG_INTEGRATION"

// PostgresDB wraps a disposable Postgres container with a ready pool.
type PostgresDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupPostgres starts a pgvector-enabled Postgres container, runs the
// module's migrations against it and returns a connected pool. The
// test is skipped unless QUILL_PG_INTEGRATION is set. Cleanup is
// registered on t.
func SetupPostgres(t *testing.T) *PostgresDB {
	t.Helper()

	if os.Getenv(pgIntegrationEnv) == "" {
		t.Skipf("set %s=1 to run Postgres integration tests", pgIntegrationEnv)
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("quill_test"),
		postgres.WithUsername("quill_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	if err := db.Migrate(connStr); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("creating connection pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("pinging database: %v", err)
	}

	return &PostgresDB{Container: container, Pool: pool, ConnStr: connStr}
}
