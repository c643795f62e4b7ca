// Package buffer implements an ordered, mutex-protected insert buffer that
// sits between an event producer (the binlog consumer, a snapshot worker)
// and a sink: rows are pushed one at a time and drained in the longest
// run that shares a table and column shape, so a sink that writes in
// batches gets homogeneous packs instead of one call per row.
package buffer

import (
	"sort"
	"strings"
	"sync"

	"github.com/mdbcdc/replicator/pkg/sink"
)

// Item is one row event queued for a sink that batches writes.
type Item struct {
	Kind    sink.Kind
	Schema  string
	Table   string
	Payload sink.Payload
}

// shapeKey returns a stable string identifying an item's column set, so
// two items can be compared for "same shape" without caring about map
// iteration order.
func shapeKey(p sink.Payload) string {
	cols := p.Values
	if cols == nil {
		cols = p.AfterValues
	}
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// sameShape reports whether a and b share the (kind, schema, table,
// columns) a pack can be flushed as a single homogeneous batch.
func (a Item) sameShape(b Item) bool {
	return a.Kind == b.Kind && a.Schema == b.Schema && a.Table == b.Table && shapeKey(a.Payload) == shapeKey(b.Payload)
}

// Buffer is a FIFO queue of Items. The zero value is not usable; use New.
// A Buffer is safe for concurrent use.
type Buffer struct {
	mu        sync.Mutex
	items     []Item
	threshold int
}

// New returns an empty Buffer. Overloaded() reports true once len(Buffer)
// exceeds threshold.
func New(threshold int) *Buffer {
	return &Buffer{threshold: threshold}
}

// Push appends item to the tail of the queue and reports whether the
// buffer is now overloaded.
func (b *Buffer) Push(item Item) (overloaded bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, item)
	return len(b.items) > b.threshold
}

// DrainPack removes and returns the longest homogeneous prefix of the
// queue — the maximal run of items sharing (kind, schema, table,
// columns). It returns nil if the buffer is empty.
func (b *Buffer) DrainPack() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil
	}
	n := 1
	for n < len(b.items) && b.items[n].sameShape(b.items[0]) {
		n++
	}
	pack := make([]Item, n)
	copy(pack, b.items[:n])
	b.items = b.items[n:]
	return pack
}

// Len returns the number of items currently queued.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Overloaded reports whether Len() exceeds the configured threshold.
func (b *Buffer) Overloaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items) > b.threshold
}
