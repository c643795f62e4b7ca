// Package engine wires the checkpoint store, sink adapter, snapshot
// coordinator/workers, binlog consumer, preflight checker, and health
// server into the three-stage INIT -> SNAPSHOT -> STREAM run, built
// around context.Context cancellation and os/signal.Notify rather than
// global state and thread flags.
package engine

import (
	"fmt"
	"time"

	"github.com/mdbcdc/replicator/pkg/dbconn"
)

// Settings is the immutable configuration for one engine run.
type Settings struct {
	Host     string
	Port     uint16
	User     string
	Password string
	ServerID uint32

	DBName         string
	SnapshotTables []string
	StreamTables   []string

	SnapshotWorkers int
	SnapshotBatch   int64

	CheckpointPath   string
	HealthSocketPath string

	SinkName   string
	SinkConfig string

	TLSMode     string
	DialTimeout time.Duration
	ReadTimeout time.Duration
	LogLevel    string

	DBConfig *dbconn.DBConfig
}

// DSN builds the primary DSN from the host/port/user/password/db_name
// fields, in the form github.com/go-sql-driver/mysql expects.
func (s Settings) DSN() string {
	port := s.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", s.User, s.Password, s.Host, port, s.DBName)
}

// DefaultSettings returns a Settings with the engine's defaults filled in;
// the caller (cmd/replicator) still must set Host/User/Password/DBName/etc.
func DefaultSettings() Settings {
	dialTimeout := 5 * time.Second
	readTimeout := 30 * time.Second

	dbConfig := dbconn.NewDBConfig()
	dbConfig.DialTimeout = dialTimeout
	dbConfig.ReadTimeout = readTimeout

	return Settings{
		ServerID:         1975,
		SnapshotWorkers:  4,
		SnapshotBatch:    1000,
		CheckpointPath:   "replicator.checkpoint.json",
		HealthSocketPath: "/tmp/replicator.sock",
		TLSMode:          "PREFERRED",
		DialTimeout:      dialTimeout,
		ReadTimeout:      readTimeout,
		LogLevel:         "info",
		DBConfig:         dbConfig,
	}
}
