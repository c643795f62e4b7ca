package preflight

import (
	"database/sql"
	"os"
	"testing"

	"github.com/mdbcdc/replicator/pkg/testutils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("mysql", testutils.DSN())
	if err != nil {
		t.Skipf("no primary available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("no primary available: %v", err)
	}
	return db
}

func TestReadonlyCheckFailsForDMLCapableUser(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// The default test DSN user has full privileges, so it can create
	// temporary tables; readonlyCheck must then report a failure.
	err := readonlyCheck(t.Context(), Resources{DB: db}, logrus.New())
	assert.Error(t, err)
}

func TestTablesCheckFindsMissingTable(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	testutils.RunSQL(t, "DROP TABLE IF EXISTS preflight_t1")
	testutils.RunSQL(t, "CREATE TABLE preflight_t1 (id INT PRIMARY KEY)")

	err := tablesCheck(t.Context(), Resources{DB: db, Schema: "test", Tables: []string{"preflight_t1"}}, logrus.New())
	assert.NoError(t, err)

	err = tablesCheck(t.Context(), Resources{DB: db, Schema: "test", Tables: []string{"preflight_t1", "does_not_exist"}}, logrus.New())
	assert.Error(t, err)
}

func TestTablesCheckSkippedWhenEmpty(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	err := tablesCheck(t.Context(), Resources{DB: db, Schema: "test"}, logrus.New())
	assert.NoError(t, err)
}

func TestVariablesCheckErrorIsActionable(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	// A stock MariaDB test instance run without GTID-strict/binlog
	// settings tuned for this engine is expected to fail variablesCheck;
	// assert only that it's actionable, not a crash.
	err := variablesCheck(t.Context(), Resources{DB: db}, logrus.New())
	if err != nil {
		assert.Contains(t, err.Error(), "preflight:")
	}
}
