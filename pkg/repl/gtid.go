// Package repl is the single-threaded binlog consumer, built on
// github.com/go-mysql-org/go-mysql/replication.BinlogSyncer.
package repl

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-mysql-org/go-mysql/mysql"
)

// GTIDSet is the engine's in-memory form of a MariaDB GTID string: one
// sequence number per domain, retaining the maximum observed per domain.
// Server id is deliberately not tracked — the engine only needs
// per-domain monotonic progress, never origin-server identity.
type GTIDSet map[uint32]uint64

// ParseGTIDSet parses a MariaDB GTID string ("domain-server-sequence,...")
// into a GTIDSet. An empty string yields an empty, non-nil GTIDSet.
func ParseGTIDSet(s string) (GTIDSet, error) {
	set := make(GTIDSet)
	if s == "" {
		return set, nil
	}
	parsed, err := mysql.ParseMariadbGTIDSet(s)
	if err != nil {
		return nil, fmt.Errorf("parsing GTID set %q: %w", s, err)
	}
	mgs, ok := parsed.(*mysql.MariadbGTIDSet)
	if !ok {
		return nil, fmt.Errorf("unexpected GTID set type %T", parsed)
	}
	for domain, gtid := range mgs.Sets {
		set[domain] = gtid.SequenceNumber
	}
	return set, nil
}

// String renders set back into MariaDB GTID string form.
func (set GTIDSet) String() string {
	if len(set) == 0 {
		return ""
	}
	domains := make([]uint32, 0, len(set))
	for d := range set {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })
	parts := make([]string, 0, len(domains))
	for _, d := range domains {
		parts = append(parts, fmt.Sprintf("%d-0-%d", d, set[d]))
	}
	return strings.Join(parts, ",")
}

// Observe merges one (domain, sequence) pair in, keeping the maximum
// sequence number per domain.
func (set GTIDSet) Observe(domain uint32, sequence uint64) {
	if sequence > set[domain] {
		set[domain] = sequence
	}
}

// Diff computes the total replication lag across domains present in
// consumer: Σ max(0, server[d] - consumer[d]) for every domain d in
// consumer. A missing domain in server contributes 0, the same as
// consumer having fully caught up on it. A nil server or consumer yields 0.
func Diff(server, consumer GTIDSet) uint64 {
	if server == nil || consumer == nil {
		return 0
	}
	var total uint64
	for domain, c := range consumer {
		if s := server[domain]; s > c {
			total += s - c
		}
	}
	return total
}

// GTIDTracker holds the last-seen GTID under its own mutex, so the
// consumer and the health server can share the value without sharing a
// lock object across package boundaries.
type GTIDTracker struct {
	mu  sync.Mutex
	set GTIDSet
}

// Observe merges domain/sequence into the tracked set.
func (t *GTIDTracker) Observe(domain uint32, sequence uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.set == nil {
		t.set = make(GTIDSet)
	}
	t.set.Observe(domain, sequence)
}

// Get returns a snapshot copy of the tracked set.
func (t *GTIDTracker) Get() GTIDSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.set == nil {
		return nil
	}
	cp := make(GTIDSet, len(t.set))
	for d, s := range t.set {
		cp[d] = s
	}
	return cp
}
