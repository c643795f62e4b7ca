// Package sink defines the contract the engine drives user-supplied
// destinations through, and a constructor registry in the style of
// database/sql's driver registration: a sink registers itself by name at
// init time and the engine resolves it by a configured string.
package sink

import (
	"context"
	"fmt"
	"sync"
)

// Kind is the row-mutation type passed to ProcessEvent.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Payload carries a row's column values. For insert/delete, Values holds
// the full row, keyed by column name. For update, BeforeValues and
// AfterValues hold the pre- and post-images over the same column set, and
// Values is nil.
type Payload struct {
	Values       map[string]any
	BeforeValues map[string]any
	AfterValues  map[string]any
}

// Sink is the capability set an externally supplied destination must
// implement. The adapter calls Init once, after preflight and before any
// stage; InitiateFullRegeneration and
// FinishedFullRegeneration bracket SNAPSHOT; InitiateSynchMode opens
// STREAM; ProcessEvent is called per row (concurrently during SNAPSHOT,
// single-threaded during STREAM); CommitBoundary marks each STREAM
// transaction commit; TearDown runs once on orderly shutdown.
type Sink interface {
	Init(ctx context.Context) error
	InitiateFullRegeneration(ctx context.Context) error
	FinishedFullRegeneration(ctx context.Context) error
	InitiateSynchMode(ctx context.Context) error
	ProcessEvent(ctx context.Context, kind Kind, schema, table string, payload Payload) error
	CommitBoundary(ctx context.Context) error
	TearDown(ctx context.Context) error
}

// Constructor builds a Sink from a free-form configuration string (e.g. a
// DSN or file path), the way a database/sql driver's Open builds a
// connection from a DSN.
type Constructor func(config string) (Sink, error)

var (
	mu         sync.Mutex
	registered = make(map[string]Constructor)
)

// Register makes a Constructor available under name. It panics on a
// duplicate registration or a nil constructor, mirroring
// database/sql.Register — both are programmer errors caught at init time,
// not runtime conditions to recover from.
func Register(name string, constructor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if constructor == nil {
		panic("sink: Register constructor is nil")
	}
	if _, dup := registered[name]; dup {
		panic("sink: Register called twice for sink " + name)
	}
	registered[name] = constructor
}

// Open resolves name against the registry and builds a Sink from config.
// The engine calls this once at startup, before preflight, so an
// unresolvable sink name fails fast instead of mid-run.
func Open(name, config string) (Sink, error) {
	mu.Lock()
	constructor, ok := registered[name]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("sink: unknown sink %q (forgotten import?)", name)
	}
	s, err := constructor(config)
	if err != nil {
		return nil, fmt.Errorf("sink: opening %q: %w", name, err)
	}
	return s, nil
}
