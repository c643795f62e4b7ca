// Package dbconn contains a series of database-related utility functions.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mdbcdc/replicator/pkg/utils"
)

// DBConfig holds the connection tuning shared by every component that
// opens a connection to the primary.
type DBConfig struct {
	LockWaitTimeout       int
	InnodbLockWaitTimeout int
	MaxOpenConnections    int
	InterpolateParams     bool
	TLSMode               string
	TLSCertificatePath    string
	DialTimeout           time.Duration
	ReadTimeout           time.Duration
}

func NewDBConfig() *DBConfig {
	return &DBConfig{
		LockWaitTimeout:       30,
		InnodbLockWaitTimeout: 3,
		MaxOpenConnections:    10,
		TLSMode:               "PREFERRED",
	}
}

// NewConsistentSnapshotConn opens a dedicated, single-connection *sql.DB and
// starts a REPEATABLE READ transaction with a consistent snapshot on it.
// Each snapshot worker holds one of these for the duration of its run, so
// every SELECT it issues sees the same frozen view of the table regardless
// of concurrent primary writes. Closing the returned *sql.DB rolls back the
// transaction by tearing down the only connection in the pool.
func NewConsistentSnapshotConn(ctx context.Context, dsn string, config *DBConfig) (*sql.DB, error) {
	single := *config
	single.MaxOpenConnections = 1
	db, err := New(dsn, &single)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "SET SESSION TRANSACTION ISOLATION LEVEL REPEATABLE READ"); err != nil {
		utils.ErrInErr(db.Close())
		return nil, fmt.Errorf("setting isolation level: %w", err)
	}
	if _, err := db.ExecContext(ctx, "START TRANSACTION WITH CONSISTENT SNAPSHOT"); err != nil {
		utils.ErrInErr(db.Close())
		return nil, fmt.Errorf("starting consistent snapshot: %w", err)
	}
	return db, nil
}
