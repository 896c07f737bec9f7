// Package helpers provides database and listener utilities for portscout
// integration tests.
package helpers

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/anstrom/portscout/internal/db"
)

// Constants for database testing.
const (
	defaultPostgreSQLPort = 5432
	dbConnectionTimeout   = 10 * time.Second
)

// TestDatabaseConfig returns the database settings for integration tests,
// read from TEST_DB_* environment variables.
func TestDatabaseConfig() *db.Config {
	cfg := db.DefaultConfig()
	cfg.Host = getEnvOrDefault("TEST_DB_HOST", "localhost")
	cfg.Port = getEnvIntOrDefault("TEST_DB_PORT", defaultPostgreSQLPort)
	cfg.Database = getEnvOrDefault("TEST_DB_NAME", "portscout_test")
	cfg.Username = getEnvOrDefault("TEST_DB_USER", "test_user")
	cfg.Password = getEnvOrDefault("TEST_DB_PASSWORD", "test_password")
	cfg.MaxOpenConns = 5
	cfg.MaxIdleConns = 2
	cfg.ConnMaxLifetime = time.Minute
	cfg.ConnMaxIdleTime = time.Minute
	return &cfg
}

// ConnectToTestDatabase connects, migrates and empties the portscout tables.
// The test is skipped when no database is reachable.
func ConnectToTestDatabase(t testing.TB) *db.DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), dbConnectionTimeout)
	defer cancel()

	database, err := db.ConnectAndMigrate(ctx, TestDatabaseConfig())
	if err != nil {
		t.Skipf("test database not available: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if err := CleanupTestTables(ctx, database); err != nil {
		t.Fatalf("failed to clean test tables: %v", err)
	}
	return database
}

// CleanupTestTables removes all rows from the portscout tables.
func CleanupTestTables(ctx context.Context, database *db.DB) error {
	for _, table := range []string{"scan_results", "scan_profiles"} {
		if _, err := database.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("failed to clean table %s: %w", table, err)
		}
	}
	return nil
}

// OpenListener starts a loopback TCP listener that writes greeting to every
// connection, and returns its port. An empty greeting accepts silently.
func OpenListener(t testing.TB, greeting string) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if greeting != "" {
				_, _ = conn.Write([]byte(greeting))
			}
			_ = conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

// ClosedPort returns a loopback port with nothing listening on it.
func ClosedPort(t testing.TB) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// getEnvOrDefault gets environment variable or returns default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault gets environment variable as int or returns default value.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
