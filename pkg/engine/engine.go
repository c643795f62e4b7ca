package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	perrors "github.com/pingcap/errors"

	"github.com/mdbcdc/replicator/pkg/checkpoint"
	"github.com/mdbcdc/replicator/pkg/dbconn"
	"github.com/mdbcdc/replicator/pkg/health"
	"github.com/mdbcdc/replicator/pkg/preflight"
	"github.com/mdbcdc/replicator/pkg/repl"
	"github.com/mdbcdc/replicator/pkg/sink"
	"github.com/mdbcdc/replicator/pkg/snapshot"
	"github.com/mdbcdc/replicator/pkg/table"
	"github.com/mdbcdc/replicator/pkg/utils"
	"github.com/siddontang/loggers"
)

// Stage is the engine's monotonic lifecycle position: it only moves
// forward, INIT -> SNAPSHOT -> STREAM, or INIT -> STREAM directly when a
// checkpoint already exists.
type Stage string

const (
	StageInit     Stage = "INIT"
	StageSnapshot Stage = "SNAPSHOT"
	StageStream   Stage = "STREAM"
)

// forceExitWindow is how long after a first interrupt a second one is
// treated as a demand for immediate, unconditional exit.
const forceExitWindow = 1500 * time.Millisecond

// Engine is the supervisor of one replication run. It owns the sink, the
// checkpoint store, the snapshot coordinator, and the binlog consumer;
// one mutex protects stage and the last error the health server reports.
type Engine struct {
	settings Settings
	log      loggers.Advanced

	mu    sync.Mutex
	stage Stage

	lastError error

	gtids      *repl.GTIDTracker
	coord      *snapshot.Coordinator
	checkpoint *checkpoint.Store
	sink       sink.Sink
	db         *sql.DB
	health     *health.Server
}

// New constructs an Engine; it does not connect to anything until Run.
func New(settings Settings, log loggers.Advanced) *Engine {
	return &Engine{
		settings:   settings,
		log:        log,
		stage:      StageInit,
		gtids:      &repl.GTIDTracker{},
		checkpoint: checkpoint.NewStore(settings.CheckpointPath),
	}
}

func (e *Engine) setStage(stage Stage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stage = stage
}

func (e *Engine) setError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastError = err
}

// fatal annotates err with context without losing the original cause,
// records it as the engine's last error for the health surface, logs it,
// and returns the nonzero exit code for a fatal preflight/stage failure.
func (e *Engine) fatal(err error, context string) int {
	annotated := perrors.Annotate(err, context)
	e.setError(annotated)
	e.log.Errorf("%v", annotated)
	return 1
}

// Run executes the full lifecycle and blocks until shutdown (orderly or
// forced). It returns the process exit code to use: 0 on clean shutdown,
// 130 on a forced double-interrupt exit, nonzero on preflight or fatal
// stage failure.
func (e *Engine) Run(ctx context.Context) int {
	ctx, cancelSignals := e.installSignalHandlers(ctx)
	defer cancelSignals()

	snk, err := sink.Open(e.settings.SinkName, e.settings.SinkConfig)
	if err != nil {
		return e.fatal(err, "opening sink")
	}
	e.sink = snk

	db, err := dbconn.New(e.settings.DSN(), e.settings.DBConfig)
	if err != nil {
		return e.fatal(err, "connecting to primary")
	}
	e.db = db
	defer utils.CloseAndLog(db)

	if err := e.runPreflight(ctx); err != nil {
		return e.fatal(err, "preflight")
	}

	healthSrv, err := health.NewServer(e.settings.HealthSocketPath, e.status, e.log)
	if err != nil {
		return e.fatal(err, "starting health server")
	}
	e.health = healthSrv
	healthStop := make(chan struct{})
	healthDone := make(chan struct{})
	go func() {
		healthSrv.Serve(healthStop)
		close(healthDone)
	}()
	defer func() {
		close(healthStop)
		utils.ErrInErr(healthSrv.Close())
		<-healthDone
	}()

	if err := e.sink.Init(ctx); err != nil {
		return e.fatal(err, "sink init")
	}

	startPos, err := e.loadOrCreateCheckpoint(ctx)
	if err != nil {
		return e.fatal(err, "establishing start position")
	}

	if startPos.fresh {
		if err := e.runSnapshot(ctx); err != nil {
			return e.fatal(err, "snapshot")
		}
	}

	e.setStage(StageStream)
	if err := e.sink.InitiateSynchMode(ctx); err != nil {
		return e.fatal(err, "initiate_synch_mode")
	}

	tables := e.tableInfos(e.settings.StreamTables)
	consumer := repl.NewConsumer(repl.Config{
		ServerID:   e.settings.ServerID,
		Host:       e.settings.Host,
		Port:       e.settings.Port,
		User:       e.settings.User,
		Password:   e.settings.Password,
		Schema:     e.settings.DBName,
		Tables:     tables,
		Sink:       e.sink,
		Checkpoint: e.checkpoint,
		GTIDs:      e.gtids,
	})
	if err := consumer.Run(ctx, startPos.pos); err != nil {
		code := e.fatal(err, "binlog consumer")
		if tdErr := e.sink.TearDown(context.Background()); tdErr != nil {
			e.log.Errorf("tear_down: %v", tdErr)
		}
		return code
	}

	if err := e.sink.TearDown(context.Background()); err != nil {
		e.log.Errorf("tear_down: %v", err)
	}

	return 0
}

// installSignalHandlers wires the double-interrupt forced exit: the first
// SIGINT/SIGTERM cancels ctx for a graceful stop; a second one within
// forceExitWindow exits the process immediately with code 130. It returns
// the derived context and a cleanup function that stops the signal relay.
func (e *Engine) installSignalHandlers(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		var lastSignal time.Time
		for range sigCh {
			now := time.Now()
			if !lastSignal.IsZero() && now.Sub(lastSignal) < forceExitWindow {
				os.Exit(130)
			}
			lastSignal = now
			cancel()
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func (e *Engine) runPreflight(ctx context.Context) error {
	allTables := append(append([]string{}, e.settings.SnapshotTables...), e.settings.StreamTables...)
	return preflight.Run(ctx, preflight.Resources{
		DB:       e.db,
		Schema:   e.settings.DBName,
		Tables:   dedupe(allTables),
		Host:     e.settings.Host,
		Port:     e.settings.Port,
		User:     e.settings.User,
		Password: e.settings.Password,
		ServerID: e.settings.ServerID,
	}, e.log)
}

type startPosition struct {
	pos   mysql.Position
	fresh bool
}

// loadOrCreateCheckpoint loads an existing checkpoint, or, if absent,
// captures the primary's current binlog position via SHOW MASTER STATUS
// and persists it as the snapshot cut.
func (e *Engine) loadOrCreateCheckpoint(ctx context.Context) (startPosition, error) {
	if cp, ok := e.checkpoint.Load(); ok {
		return startPosition{pos: mysql.Position{Name: cp.LogFile, Pos: cp.LogPos}, fresh: false}, nil
	}

	var file string
	var pos uint32
	row := e.db.QueryRowContext(ctx, "SHOW MASTER STATUS")
	if err := row.Scan(&file, &pos, new(sql.NullString), new(sql.NullString), new(sql.NullString)); err != nil {
		return startPosition{}, fmt.Errorf("SHOW MASTER STATUS: %w", err)
	}
	cp := checkpoint.Position{LogFile: file, LogPos: pos}
	if err := e.checkpoint.Save(cp); err != nil {
		return startPosition{}, fmt.Errorf("persisting snapshot cut: %w", err)
	}
	return startPosition{pos: mysql.Position{Name: file, Pos: pos}, fresh: true}, nil
}

func (e *Engine) runSnapshot(ctx context.Context) error {
	e.setStage(StageSnapshot)

	tables := e.tableInfos(e.settings.SnapshotTables)
	tableNames := make([]string, 0, len(tables))
	var infos []*table.Info
	for name, ti := range tables {
		tableNames = append(tableNames, name)
		infos = append(infos, ti)
	}
	e.coord = snapshot.NewCoordinator(tableNames)

	if err := e.sink.InitiateFullRegeneration(ctx); err != nil {
		return fmt.Errorf("initiate_full_regeneration: %w", err)
	}

	n := e.settings.SnapshotWorkers
	if n < 1 {
		n = 1
	}
	workers := make([]*snapshot.Worker, 0, n)
	for i := 0; i < n; i++ {
		workers = append(workers, snapshot.NewWorker(i, e.settings.DSN(), e.settings.DBConfig, e.settings.DBName, infos, e.coord, e.sink, e.settings.SnapshotBatch))
	}
	if err := snapshot.RunAll(ctx, workers); err != nil {
		return fmt.Errorf("snapshot workers: %w", err)
	}

	if err := e.sink.FinishedFullRegeneration(ctx); err != nil {
		return fmt.Errorf("finished_full_regeneration: %w", err)
	}
	return nil
}

// tableInfos introspects each named table against the primary, keyed by
// table name, for handoff to the snapshot workers or the binlog consumer.
func (e *Engine) tableInfos(names []string) map[string]*table.Info {
	infos := make(map[string]*table.Info, len(names))
	for _, name := range names {
		ti := table.NewInfo(e.db, e.settings.DBName, name)
		if err := ti.SetInfo(context.Background()); err != nil {
			e.log.Errorf("introspecting %s.%s: %v", e.settings.DBName, name, err)
			continue
		}
		infos[name] = ti
	}
	return infos
}

// status builds the health document queried by the health server on each
// accepted connection.
func (e *Engine) status() health.Status {
	e.mu.Lock()
	stage := e.stage
	var errMsg *string
	if e.lastError != nil {
		msg := e.lastError.Error()
		errMsg = &msg
	}
	e.mu.Unlock()

	var total, parsed int64
	if e.coord != nil {
		total, parsed = e.coord.Statistic()
	}

	consumerSet := e.gtids.Get()
	var consumerGTID *string
	if consumerSet != nil {
		s := consumerSet.String()
		consumerGTID = &s
	}

	serverGTID := e.queryServerGTID()

	status := "ok"
	if errMsg != nil {
		status = "error"
	}

	return health.Status{
		Status:             status,
		Stage:              health.Stage(stage),
		SnapshotRowsTotal:  total,
		SnapshotRowsParsed: parsed,
		ServerGTID:         serverGTID,
		ConsumerGTID:       consumerGTID,
		GTIDDiff:           health.GTIDDiff(serverGTID, consumerGTID),
		Error:              errMsg,
	}
}

func (e *Engine) queryServerGTID() *string {
	if e.db == nil {
		return nil
	}
	var gtid sql.NullString
	row := e.db.QueryRowContext(context.Background(), "SELECT @@GLOBAL.gtid_current_pos")
	if err := row.Scan(&gtid); err != nil || !gtid.Valid {
		return nil
	}
	return &gtid.String
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
