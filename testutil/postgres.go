package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/onnwee/demo-app/config"
)

// PostgresDatabase returns connection parameters for a real Postgres taken from TEST_PG_DSN.
// It skips the test if TEST_PG_DSN environment variable is not set.
func PostgresDatabase(t *testing.T) config.Database {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	pc, err := pgx.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse TEST_PG_DSN: %v", err)
	}
	sslMode := "disable"
	if pc.TLSConfig != nil {
		sslMode = "require"
	}
	return config.Database{
		Host:           pc.Host,
		Port:           int(pc.Port),
		Name:           pc.Database,
		User:           pc.User,
		Password:       pc.Password,
		SSLMode:        sslMode,
		ConnectTimeout: 2 * time.Second,
		ProbeTimeout:   5 * time.Second,
	}
}
