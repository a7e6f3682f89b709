package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

var memSeq atomic.Int64

// OpenTestDB returns a database for token-store tests and its driver name.
// It uses Postgres when TEST_PG_DSN is set and a private in-memory SQLite
// database otherwise.
func OpenTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	driver, dsn := "sqlite3", fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", memSeq.Add(1))
	if pg := os.Getenv("TEST_PG_DSN"); pg != "" {
		driver, dsn = "pgx", pg
	}
	database, err := sql.Open(driver, dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if driver == "sqlite3" {
		// Shared-cache memory DBs vanish when the last connection closes.
		database.SetMaxOpenConns(1)
	}
	if driver == "pgx" {
		if _, err := database.Exec(`DROP TABLE IF EXISTS oauth_tokens`); err != nil {
			t.Fatalf("reset oauth_tokens: %v", err)
		}
	}
	t.Cleanup(func() { _ = database.Close() })
	return database, driver
}
