package repl

import (
	"context"
	"testing"

	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/mdbcdc/replicator/pkg/sink"
	"github.com/mdbcdc/replicator/pkg/table"
	"github.com/stretchr/testify/assert"
)

func TestRowToMap(t *testing.T) {
	m := rowToMap([]string{"id", "value"}, []interface{}{1, "x"})
	assert.Equal(t, map[string]any{"id": 1, "value": "x"}, m)
}

func TestRowToMapShortRow(t *testing.T) {
	m := rowToMap([]string{"id", "value"}, []interface{}{1})
	assert.Equal(t, map[string]any{"id": 1}, m)
}

type captureSink struct {
	calls []string
}

func (c *captureSink) Init(context.Context) error                     { return nil }
func (c *captureSink) InitiateFullRegeneration(context.Context) error { return nil }
func (c *captureSink) FinishedFullRegeneration(context.Context) error { return nil }
func (c *captureSink) InitiateSynchMode(context.Context) error        { return nil }
func (c *captureSink) CommitBoundary(context.Context) error {
	c.calls = append(c.calls, "commit_boundary")
	return nil
}
func (c *captureSink) TearDown(context.Context) error { return nil }
func (c *captureSink) ProcessEvent(ctx context.Context, kind sink.Kind, schema, tbl string, payload sink.Payload) error {
	c.calls = append(c.calls, string(kind)+":"+tbl)
	return nil
}

func TestHandleRowsEventSkipsUnknownTable(t *testing.T) {
	snk := &captureSink{}
	c := NewConsumer(Config{
		Schema: "test",
		Tables: map[string]*table.Info{},
		Sink:   snk,
	})

	ev := &replication.RowsEvent{
		Table: &replication.TableMapEvent{Schema: []byte("test"), Table: []byte("not_tracked")},
		Rows:  [][]interface{}{{1, "x"}},
	}
	err := c.handleRowsEvent(t.Context(), replication.WRITE_ROWS_EVENTv2, ev)
	assert.NoError(t, err)
	assert.Empty(t, snk.calls)
}

func TestHandleRowsEventSkipsOtherSchema(t *testing.T) {
	snk := &captureSink{}
	c := NewConsumer(Config{
		Schema: "test",
		Tables: map[string]*table.Info{"items": {Columns: []string{"id"}, KeyColumn: "id"}},
		Sink:   snk,
	})

	ev := &replication.RowsEvent{
		Table: &replication.TableMapEvent{Schema: []byte("otherdb"), Table: []byte("items")},
		Rows:  [][]interface{}{{1}},
	}
	err := c.handleRowsEvent(t.Context(), replication.WRITE_ROWS_EVENTv2, ev)
	assert.NoError(t, err)
	assert.Empty(t, snk.calls)
}

func TestHandleRowsEventInsert(t *testing.T) {
	snk := &captureSink{}
	c := NewConsumer(Config{
		Schema: "test",
		Tables: map[string]*table.Info{"items": {Columns: []string{"id", "value"}, KeyColumn: "id"}},
		Sink:   snk,
	})

	ev := &replication.RowsEvent{
		Table: &replication.TableMapEvent{Schema: []byte("test"), Table: []byte("items")},
		Rows:  [][]interface{}{{1, "a"}, {2, "b"}},
	}
	err := c.handleRowsEvent(t.Context(), replication.WRITE_ROWS_EVENTv2, ev)
	assert.NoError(t, err)
	// Rows stay buffered until a flush (commit boundary or overload).
	assert.NoError(t, c.flush(t.Context()))
	assert.Equal(t, []string{"insert:items", "insert:items"}, snk.calls)
}

func TestHandleRowsEventUpdate(t *testing.T) {
	snk := &captureSink{}
	c := NewConsumer(Config{
		Schema: "test",
		Tables: map[string]*table.Info{"items": {Columns: []string{"id", "value"}, KeyColumn: "id"}},
		Sink:   snk,
	})

	ev := &replication.RowsEvent{
		Table: &replication.TableMapEvent{Schema: []byte("test"), Table: []byte("items")},
		Rows:  [][]interface{}{{1, "a"}, {1, "b"}},
	}
	err := c.handleRowsEvent(t.Context(), replication.UPDATE_ROWS_EVENTv2, ev)
	assert.NoError(t, err)
	assert.NoError(t, c.flush(t.Context()))
	assert.Equal(t, []string{"update:items"}, snk.calls)
}

func TestHandleRowsEventDelete(t *testing.T) {
	snk := &captureSink{}
	c := NewConsumer(Config{
		Schema: "test",
		Tables: map[string]*table.Info{"items": {Columns: []string{"id", "value"}, KeyColumn: "id"}},
		Sink:   snk,
	})

	ev := &replication.RowsEvent{
		Table: &replication.TableMapEvent{Schema: []byte("test"), Table: []byte("items")},
		Rows:  [][]interface{}{{1, "a"}},
	}
	err := c.handleRowsEvent(t.Context(), replication.DELETE_ROWS_EVENTv2, ev)
	assert.NoError(t, err)
	assert.NoError(t, c.flush(t.Context()))
	assert.Equal(t, []string{"delete:items"}, snk.calls)
}

func TestHandleRowsEventUnknownKindErrors(t *testing.T) {
	snk := &captureSink{}
	c := NewConsumer(Config{
		Schema: "test",
		Tables: map[string]*table.Info{"items": {Columns: []string{"id"}, KeyColumn: "id"}},
		Sink:   snk,
	})

	ev := &replication.RowsEvent{
		Table: &replication.TableMapEvent{Schema: []byte("test"), Table: []byte("items")},
		Rows:  [][]interface{}{{1}},
	}
	err := c.handleRowsEvent(t.Context(), replication.EventType(0xFE), ev)
	assert.Error(t, err)
}

func TestGTIDObserveViaMariadbGTIDEvent(t *testing.T) {
	tr := &GTIDTracker{}
	c := NewConsumer(Config{GTIDs: tr})

	ev := &replication.MariadbGTIDEvent{
		GTID: replication.MariadbGTID{DomainID: 0, SequenceNumber: 42},
	}
	err := c.handleEvent(t.Context(), &replication.BinlogEvent{Event: ev})
	assert.NoError(t, err)
	assert.Equal(t, GTIDSet{0: 42}, tr.Get())
}
