package testutil

import (
	"database/sql"
	"os"
	"strconv"
	"testing"

	"github.com/xxxsen/notevault/internal/config"
	"github.com/xxxsen/notevault/internal/db"
)

// OpenTestDB connects to the Postgres named by TEST_DB_HOST and applies the
// schema; the test is skipped when the variable is unset.
func OpenTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	port := 5432
	if value := os.Getenv("TEST_DB_PORT"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			port = parsed
		}
	}
	cfg := config.DatabaseConfig{
		Host:     host,
		Port:     port,
		User:     "notevault",
		Password: "notevault_pass",
		DBName:   "notevault_test",
		SSLMode:  "disable",
	}
	conn, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn, cfg.ConnString()
}
