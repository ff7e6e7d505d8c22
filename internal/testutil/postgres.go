package testutil

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PostgresImage is the server image integration tests run against.
const PostgresImage = "postgres:16-alpine"

var (
	sharedPostgresURL  string
	sharedPostgresOnce sync.Once
	sharedPostgresErr  error
)

// PostgresURL returns the connection string of a PostgreSQL container
// shared by every test in the run. The test is skipped in short mode or
// when no container provider is reachable.
func PostgresURL(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	sharedPostgresOnce.Do(func() {
		sharedPostgresURL, sharedPostgresErr = startPostgres()
	})
	if sharedPostgresErr != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", sharedPostgresErr)
	}
	return sharedPostgresURL
}

// The container lives until the test binary exits; Ryuk reaps it.
func startPostgres() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := postgres.Run(ctx, PostgresImage,
		postgres.WithDatabase("actionc_test"),
		postgres.WithUsername("actionc"),
		postgres.WithPassword("test_password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", fmt.Errorf("failed to get connection string: %w", err)
	}
	return url, nil
}

var databaseCounter atomic.Int64

// FreshDatabase creates an empty database in the shared container and
// returns its connection string.
func FreshDatabase(t *testing.T) string {
	t.Helper()
	base := PostgresURL(t)

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, base)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", base, err)
	}
	defer conn.Close(ctx)

	name := fmt.Sprintf("actionc_t%d", databaseCounter.Add(1))
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+name); err != nil {
		t.Fatalf("Failed to create database %s: %v", name, err)
	}

	u, err := url.Parse(base)
	if err != nil {
		t.Fatalf("Failed to parse %s: %v", base, err)
	}
	u.Path = "/" + name
	return u.String()
}
