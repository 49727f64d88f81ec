package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/migrations"
	"github.com/ekaya-inc/ekaya-connect/pkg/database"
)

// PostgresImage is the image integration tests run against.
const PostgresImage = "postgres:17-alpine"

// ConnectDB holds the service database connection with migrations applied.
// Use this for testing services and repositories against a real database.
type ConnectDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedConnectDB     *ConnectDB
	sharedConnectDBOnce sync.Once
	sharedConnectDBErr  error
)

// GetConnectDB returns a shared PostgreSQL container for integration tests.
// The container is created once, migrated, and reused across all tests in the run.
func GetConnectDB(t *testing.T) *ConnectDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedConnectDBOnce.Do(func() {
		sharedConnectDB, sharedConnectDBErr = setupConnectDB()
	})

	if sharedConnectDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedConnectDBErr)
	}

	return sharedConnectDB
}

func setupConnectDB() (*ConnectDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "ekaya_connect_test",
			"POSTGRES_USER":     "ekaya",
			"POSTGRES_PASSWORD": "test_password",
		},
		// The init process restarts the server once, so the message appears twice.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://ekaya:test_password@%s:%s/ekaya_connect_test?sslmode=disable",
		host, port.Port())

	db, err := database.Connect(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 5,
	}, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	// Run migrations using database/sql (required by golang-migrate)
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, migrations.FS, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &ConnectDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// Exec runs a statement without organization scope. Use it for fixtures and cleanup.
func (c *ConnectDB) Exec(t *testing.T, query string, args ...any) {
	t.Helper()
	if _, err := c.DB.Pool.Exec(context.Background(), query, args...); err != nil {
		t.Fatalf("fixture statement failed: %v", err)
	}
}
