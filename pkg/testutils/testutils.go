// Package testutils provides shared helpers for integration tests that
// require a live MariaDB instance.
package testutils

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
)

// DSN returns the DSN used by integration tests, overridable via the
// MDBCDC_TEST_DSN environment variable.
func DSN() string {
	if dsn := os.Getenv("MDBCDC_TEST_DSN"); dsn != "" {
		return dsn
	}
	return "root:mypassword@tcp(127.0.0.1:3306)/test"
}

// RunSQL executes a statement against DSN(), failing the test on error.
func RunSQL(t *testing.T, query string) {
	t.Helper()
	db, err := sql.Open("mysql", DSN())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
