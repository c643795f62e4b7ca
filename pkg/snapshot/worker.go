package snapshot

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mdbcdc/replicator/pkg/buffer"
	"github.com/mdbcdc/replicator/pkg/dbconn"
	"github.com/mdbcdc/replicator/pkg/sink"
	"github.com/mdbcdc/replicator/pkg/table"
	"github.com/mdbcdc/replicator/pkg/utils"
)

// Worker drains a fixed set of tables through one consistent-snapshot
// connection.
type Worker struct {
	id          int
	dsn         string
	dbConfig    *dbconn.DBConfig
	schema      string
	tables      []*table.Info
	coordinator *Coordinator
	sink        sink.Sink
	batchSize   int64
	buf         *buffer.Buffer
}

// NewWorker returns a Worker that will, on Run, open its own connection
// against dsn and drain tables into sink via coordinator. Scanned rows are
// queued in an insert buffer sized to one fetch window and flushed as a
// pack at the end of each window.
func NewWorker(id int, dsn string, dbConfig *dbconn.DBConfig, schema string, tables []*table.Info, coordinator *Coordinator, snk sink.Sink, batchSize int64) *Worker {
	return &Worker{
		id:          id,
		dsn:         dsn,
		dbConfig:    dbConfig,
		schema:      schema,
		tables:      tables,
		coordinator: coordinator,
		sink:        snk,
		batchSize:   batchSize,
		buf:         buffer.New(int(batchSize)),
	}
}

// Run opens a dedicated consistent-snapshot connection, reports this
// worker's (count, min, max) observation for every assigned table, then
// drains each table window by window until every window comes back empty.
func (w *Worker) Run(ctx context.Context) error {
	db, err := dbconn.NewConsistentSnapshotConn(ctx, w.dsn, w.dbConfig)
	if err != nil {
		return fmt.Errorf("snapshot worker %d: opening connection: %w", w.id, err)
	}
	defer utils.CloseAndLog(db)

	for _, t := range w.tables {
		count, minID, maxID, err := t.Bounds(ctx, db)
		if err != nil {
			return fmt.Errorf("snapshot worker %d: %w", w.id, err)
		}
		w.coordinator.ReportRange(t.TableName, count, minID, maxID)
	}

	for _, t := range w.tables {
		if err := w.drainTable(ctx, db, t); err != nil {
			return fmt.Errorf("snapshot worker %d: %w", w.id, err)
		}
	}
	return nil
}

// drainTable repeatedly reserves an id window from the coordinator, reads
// the rows it covers, and hands them to the sink, until the reserved
// window has moved past the table's observed maximum id, or a window
// comes back empty (e.g. a table reported as empty, whose maximum id is
// never set above its starting cursor).
func (w *Worker) drainTable(ctx context.Context, db *sql.DB, t *table.Info) error {
	for {
		start := w.coordinator.Reserve(t.TableName, w.batchSize)
		if start > w.coordinator.MaxID(t.TableName) {
			return nil
		}
		n, err := w.fetchWindow(ctx, db, t, start, start+w.batchSize)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		w.coordinator.AddParsed(t.TableName, n)
	}
}

// fetchWindow runs the window SELECT, queues one insert item per row, and
// flushes the buffer once the window is fully scanned, returning the
// number of rows read.
func (w *Worker) fetchWindow(ctx context.Context, db *sql.DB, t *table.Info, start, end int64) (int64, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s >= ? AND %s < ? ORDER BY %s",
		t.QuotedName, t.KeyColumn, t.KeyColumn, t.KeyColumn)
	rows, err := db.QueryContext(ctx, query, start, end)
	if err != nil {
		return 0, fmt.Errorf("fetching window [%d,%d) of %s: %w", start, end, t.QuotedName, err)
	}
	defer rows.Close()

	var n int64
	for rows.Next() {
		payload, err := scanRow(rows, t.Columns)
		if err != nil {
			return n, err
		}
		w.buf.Push(buffer.Item{Kind: sink.KindInsert, Schema: w.schema, Table: t.TableName, Payload: sink.Payload{Values: payload}})
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	if err := w.flush(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// flush drains every pack currently queued and hands each one to the
// sink, in order.
func (w *Worker) flush(ctx context.Context) error {
	for {
		pack := w.buf.DrainPack()
		if pack == nil {
			return nil
		}
		for _, item := range pack {
			if err := w.sink.ProcessEvent(ctx, item.Kind, item.Schema, item.Table, item.Payload); err != nil {
				return fmt.Errorf("process_event on %s: %w", item.Table, err)
			}
		}
	}
}
