// Package snapshot implements the initial full-regeneration pass: a
// coordinator handing out id windows to a pool of workers, each reading
// its table through its own consistent-snapshot connection.
package snapshot

import "sync"

type tableState struct {
	// initialized is set once a worker has reported a non-empty
	// (count, min, max) observation for this table. Kept separate from
	// currentID so a legitimate minimum id of 0 is never mistaken for
	// "no observation yet".
	initialized bool
	currentID   int64
	maxID       int64
	rowsCount   int64
	rowsParsed  int64
}

// Coordinator tracks, per table, the shared id-space cursor and row
// counters that snapshot workers cooperate on. The zero value is not
// usable; use NewCoordinator.
type Coordinator struct {
	mu     sync.Mutex
	tables map[string]*tableState
}

// NewCoordinator returns a Coordinator tracking exactly the given tables.
func NewCoordinator(tables []string) *Coordinator {
	c := &Coordinator{tables: make(map[string]*tableState, len(tables))}
	for _, t := range tables {
		c.tables[t] = &tableState{}
	}
	return c
}

// Reserve returns the current id cursor for table, then advances it by n.
// The caller's exclusive fetch window is [start, start+n).
func (c *Coordinator) Reserve(table string, n int64) (start int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.tables[table]
	start = st.currentID
	st.currentID += n
	return start
}

// ReportRange merges one worker's (COUNT(*), MIN(id), MAX(id)) observation
// for table: rowsCount keeps the max observed, the id cursor drops to the
// lowest min_id observed (so Reserve starts no later than the earliest
// row any worker has seen), and maxID rises to the highest.
func (c *Coordinator) ReportRange(table string, count, minID, maxID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.tables[table]
	if count > st.rowsCount {
		st.rowsCount = count
	}
	if count == 0 {
		return
	}
	if !st.initialized || minID < st.currentID {
		st.currentID = minID
	}
	st.initialized = true
	if maxID > st.maxID {
		st.maxID = maxID
	}
}

// AddParsed adds k to table's parsed-row counter.
func (c *Coordinator) AddParsed(table string, k int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[table].rowsParsed += k
}

// MaxID returns the highest id observed for table across all workers'
// reports, used by a worker's fetch loop to know when to stop requesting
// new windows.
func (c *Coordinator) MaxID(table string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tables[table].maxID
}

// Statistic returns the total row count and total parsed count summed
// across every tracked table, for the health surface's snapshot progress
// fields.
func (c *Coordinator) Statistic() (totalRows, parsedRows int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.tables {
		totalRows += st.rowsCount
		parsedRows += st.rowsParsed
	}
	return totalRows, parsedRows
}
