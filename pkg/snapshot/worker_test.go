package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/mdbcdc/replicator/pkg/dbconn"
	"github.com/mdbcdc/replicator/pkg/sink"
	"github.com/mdbcdc/replicator/pkg/table"
	"github.com/mdbcdc/replicator/pkg/testutils"
	"github.com/stretchr/testify/assert"
)

// capturingSink collects every insert payload it's handed, guarded by a
// mutex since multiple snapshot workers call ProcessEvent concurrently.
type capturingSink struct {
	mu   sync.Mutex
	rows []sink.Payload
}

func (s *capturingSink) Init(context.Context) error                     { return nil }
func (s *capturingSink) InitiateFullRegeneration(context.Context) error { return nil }
func (s *capturingSink) FinishedFullRegeneration(context.Context) error { return nil }
func (s *capturingSink) InitiateSynchMode(context.Context) error        { return nil }
func (s *capturingSink) CommitBoundary(context.Context) error           { return nil }
func (s *capturingSink) TearDown(context.Context) error                { return nil }
func (s *capturingSink) ProcessEvent(ctx context.Context, kind sink.Kind, schema, table string, payload sink.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, payload)
	return nil
}

func (s *capturingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func TestWorkerDrainsTable(t *testing.T) {
	dsn := testutils.DSN()
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("no primary available: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Skipf("no primary available: %v", err)
	}

	testutils.RunSQL(t, "DROP TABLE IF EXISTS snap_worker_t1")
	testutils.RunSQL(t, "CREATE TABLE snap_worker_t1 (id INT NOT NULL, value INT, PRIMARY KEY (id))")
	for i := 1; i <= 25; i++ {
		testutils.RunSQL(t, fmt.Sprintf("INSERT INTO snap_worker_t1 (id, value) VALUES (%d, %d)", i, i*10))
	}

	ti := table.NewInfo(db, "test", "snap_worker_t1")
	assert.NoError(t, ti.SetInfo(t.Context()))

	coordinator := NewCoordinator([]string{"snap_worker_t1"})
	snk := &capturingSink{}
	w := NewWorker(1, dsn, dbconn.NewDBConfig(), "test", []*table.Info{ti}, coordinator, snk, 10)

	assert.NoError(t, w.Run(t.Context()))
	assert.Equal(t, 25, snk.count())

	total, parsed := coordinator.Statistic()
	assert.Equal(t, int64(25), total)
	assert.Equal(t, int64(25), parsed)
}
