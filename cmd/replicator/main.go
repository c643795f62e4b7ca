// Command replicator runs the CDC engine: preflight, then initial
// snapshot (if no checkpoint exists), then live binlog streaming, until
// an interrupt or fatal error stops it. Flags map directly onto
// engine.Settings.
package main

import (
	"context"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/mdbcdc/replicator/pkg/engine"
	_ "github.com/mdbcdc/replicator/pkg/sink/logsink"
	"github.com/sirupsen/logrus"
)

type cli struct {
	Host     string `kong:"required,help='Primary host.'"`
	Port     uint16 `kong:"default=3306,help='Primary port.'"`
	User     string `kong:"required,help='Replication user.'"`
	Password string `kong:"required,help='Replication user password.',env='REPLICATOR_PASSWORD'"`
	ServerID uint32 `kong:"default=1975,help='Server id the engine presents to the primary.'"`

	DBName         string   `kong:"required,name='db-name',help='Schema being mirrored.'"`
	SnapshotTables []string `kong:"name='snapshot-table',help='Tables to snapshot on first run (repeatable).'"`
	StreamTables   []string `kong:"name='stream-table',help='Tables to stream row events for (repeatable).'"`

	SnapshotWorkers int   `kong:"default=4,name='snapshot-workers',help='Concurrent snapshot workers.'"`
	SnapshotBatch   int64 `kong:"default=1000,name='snapshot-batch',help='Id-range width per snapshot fetch.'"`

	CheckpointPath   string `kong:"default='replicator.checkpoint.json',name='checkpoint-path'"`
	HealthSocketPath string `kong:"default='/tmp/replicator.sock',name='health-socket'"`

	SinkName   string `kong:"default='log',name='sink',help='Registered sink name.'"`
	SinkConfig string `kong:"name='sink-config',help='Sink-specific configuration string.'"`

	TLSMode  string `kong:"default='PREFERRED',name='tls-mode'"`
	LogLevel string `kong:"default='info',name='log-level'"`
}

func (c *cli) toSettings() engine.Settings {
	s := engine.DefaultSettings()
	s.Host = c.Host
	s.Port = c.Port
	s.User = c.User
	s.Password = c.Password
	s.ServerID = c.ServerID
	s.DBName = c.DBName
	s.SnapshotTables = c.SnapshotTables
	s.StreamTables = c.StreamTables
	s.SnapshotWorkers = c.SnapshotWorkers
	s.SnapshotBatch = c.SnapshotBatch
	s.CheckpointPath = c.CheckpointPath
	s.HealthSocketPath = c.HealthSocketPath
	s.SinkName = c.SinkName
	s.SinkConfig = c.SinkConfig
	s.TLSMode = c.TLSMode
	s.LogLevel = c.LogLevel
	s.DBConfig.TLSMode = c.TLSMode
	s.DBConfig.DialTimeout = s.DialTimeout
	s.DBConfig.ReadTimeout = s.ReadTimeout
	return s
}

func main() {
	var c cli
	kong.Parse(&c,
		kong.Name("replicator"),
		kong.Description("One-way MariaDB/MySQL-compatible CDC replication engine."),
	)

	log := logrus.New()
	if level, err := logrus.ParseLevel(strings.ToLower(c.LogLevel)); err == nil {
		log.SetLevel(level)
	}

	eng := engine.New(c.toSettings(), log)
	os.Exit(eng.Run(context.Background()))
}
