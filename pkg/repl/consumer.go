package repl

import (
	"context"
	"fmt"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/mdbcdc/replicator/pkg/buffer"
	"github.com/mdbcdc/replicator/pkg/checkpoint"
	"github.com/mdbcdc/replicator/pkg/sink"
	"github.com/mdbcdc/replicator/pkg/table"
)

// defaultBufferThreshold bounds how many row events the consumer queues
// between binlog events before forcing a flush to the sink ahead of the
// next commit boundary.
const defaultBufferThreshold = 500

// Config configures a Consumer.
type Config struct {
	ServerID uint32
	Host     string
	Port     uint16
	User     string
	Password string

	// Schema is the single monitored database.
	Schema string
	// Tables maps stream table name to its introspected column list, used
	// to key row values by column name in the sink payload.
	Tables map[string]*table.Info

	Sink       sink.Sink
	Checkpoint *checkpoint.Store
	GTIDs      *GTIDTracker

	// BufferThreshold overrides defaultBufferThreshold; zero keeps the
	// default.
	BufferThreshold int
}

// Consumer is the single-threaded binlog reader. It owns the
// replication.BinlogSyncer for its lifetime; Close releases it. Row
// events are queued in an insert buffer and handed to the sink in
// homogeneous packs, either when the buffer fills or at a transaction's
// commit boundary, so a sink that wants to batch writes gets runs of rows
// sharing a table and column shape instead of one call per row.
type Consumer struct {
	cfg    Config
	syncer *replication.BinlogSyncer
	buf    *buffer.Buffer

	currentFile string
}

// NewConsumer builds a Consumer. The underlying BinlogSyncer connection
// isn't opened until Run.
func NewConsumer(cfg Config) *Consumer {
	threshold := cfg.BufferThreshold
	if threshold <= 0 {
		threshold = defaultBufferThreshold
	}
	return &Consumer{cfg: cfg, buf: buffer.New(threshold)}
}

// Run opens the replication stream at startPos and processes events until
// ctx is canceled or an unrecoverable error occurs. It returns nil on
// orderly cancellation.
//
// Unlike the Python original's explicit sleep-and-recheck loop,
// streamer.GetEvent(ctx) itself blocks only until ctx is done or an event
// arrives, so shutdown stays responsive without a manual poll interval.
func (c *Consumer) Run(ctx context.Context, startPos mysql.Position) error {
	syncerCfg := replication.BinlogSyncerConfig{
		ServerID: c.cfg.ServerID,
		Flavor:   mysql.MariaDBFlavor,
		Host:     c.cfg.Host,
		Port:     c.cfg.Port,
		User:     c.cfg.User,
		Password: c.cfg.Password,
	}
	c.syncer = replication.NewBinlogSyncer(syncerCfg)
	defer c.syncer.Close()

	streamer, err := c.syncer.StartSync(startPos)
	if err != nil {
		return fmt.Errorf("starting binlog stream at %s:%d: %w", startPos.Name, startPos.Pos, err)
	}
	c.currentFile = startPos.Name

	for {
		event, err := streamer.GetEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading binlog event: %w", err)
		}
		if err := c.handleEvent(ctx, event); err != nil {
			return err
		}
	}
}

// Close releases the syncer if Run has been called.
func (c *Consumer) Close() {
	if c.syncer != nil {
		c.syncer.Close()
	}
}

func (c *Consumer) handleEvent(ctx context.Context, event *replication.BinlogEvent) error {
	switch ev := event.Event.(type) {
	case *replication.RotateEvent:
		c.currentFile = string(ev.NextLogName)
		return nil

	case *replication.MariadbGTIDEvent:
		if c.cfg.GTIDs != nil {
			c.cfg.GTIDs.Observe(ev.GTID.DomainID, ev.GTID.SequenceNumber)
		}
		return nil

	case *replication.RowsEvent:
		return c.handleRowsEvent(ctx, event.Header.EventType, ev)

	case *replication.XIDEvent:
		if err := c.flush(ctx); err != nil {
			return err
		}
		if err := c.cfg.Sink.CommitBoundary(ctx); err != nil {
			return fmt.Errorf("commit_boundary: %w", err)
		}
		pos := checkpoint.Position{LogFile: c.currentFile, LogPos: event.Header.LogPos}
		if err := c.cfg.Checkpoint.Save(pos); err != nil {
			// Not fatal: the error is neither logged nor returned, and the
			// next commit retries the save.
			return nil
		}
		return nil

	default:
		// Query events (DDL, non-GTID BEGIN/COMMIT) are ignored; DDL is
		// out of scope for this engine.
		return nil
	}
}

func (c *Consumer) handleRowsEvent(ctx context.Context, eventType replication.EventType, ev *replication.RowsEvent) error {
	schema := string(ev.Table.Schema)
	tableName := string(ev.Table.Table)
	if schema != c.cfg.Schema {
		return nil
	}
	ti, ok := c.cfg.Tables[tableName]
	if !ok {
		return nil
	}

	switch eventType {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		for _, row := range ev.Rows {
			payload := sink.Payload{Values: rowToMap(ti.Columns, row)}
			c.buf.Push(buffer.Item{Kind: sink.KindInsert, Schema: schema, Table: tableName, Payload: payload})
		}

	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		for i := 0; i+1 < len(ev.Rows); i += 2 {
			payload := sink.Payload{
				BeforeValues: rowToMap(ti.Columns, ev.Rows[i]),
				AfterValues:  rowToMap(ti.Columns, ev.Rows[i+1]),
			}
			c.buf.Push(buffer.Item{Kind: sink.KindUpdate, Schema: schema, Table: tableName, Payload: payload})
		}

	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		for _, row := range ev.Rows {
			payload := sink.Payload{Values: rowToMap(ti.Columns, row)}
			c.buf.Push(buffer.Item{Kind: sink.KindDelete, Schema: schema, Table: tableName, Payload: payload})
		}

	default:
		return fmt.Errorf("unknown row event kind %s", eventType)
	}

	if c.buf.Overloaded() {
		return c.flush(ctx)
	}
	return nil
}

// flush drains every pack currently queued and hands each one to the sink
// in order. It's called when the buffer fills past its threshold and
// unconditionally at every commit boundary, so every row of a transaction
// reaches the sink before that transaction's CommitBoundary. A flush
// triggered by the threshold hands the sink rows of a transaction whose
// commit has not been read yet.
func (c *Consumer) flush(ctx context.Context) error {
	for {
		pack := c.buf.DrainPack()
		if pack == nil {
			return nil
		}
		for _, item := range pack {
			if err := c.cfg.Sink.ProcessEvent(ctx, item.Kind, item.Schema, item.Table, item.Payload); err != nil {
				return fmt.Errorf("process_event %s on %s: %w", item.Kind, item.Table, err)
			}
		}
	}
}

func rowToMap(columns []string, row []interface{}) map[string]any {
	m := make(map[string]any, len(columns))
	for i, col := range columns {
		if i < len(row) {
			m[col] = row[i]
		}
	}
	return m
}
