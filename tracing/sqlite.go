package tracing

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/tomasim/timing/pipeline"
)

type issueRow struct {
	cycle uint64
	inst  string
	unit  string
	tag   pipeline.Tag
}

type broadcastRow struct {
	b pipeline.Broadcast
}

type cycleRow struct {
	cycle     uint64
	issued    uint64
	completed uint64
	hits      uint64
	misses    uint64
	snapshot  string
}

// SQLiteWriter is a hook that writes issue events, broadcasts and per-cycle
// snapshots to a SQLite database. Rows are buffered and written in batches.
// Every run gets its own run ID so several runs can share a database.
type SQLiteWriter struct {
	*sql.DB

	mu sync.Mutex

	dbName    string
	runID     string
	batchSize int

	issueStatement     *sql.Stmt
	broadcastStatement *sql.Stmt
	cycleStatement     *sql.Stmt

	issuesToWrite     []issueRow
	broadcastsToWrite []broadcastRow
	cyclesToWrite     []cycleRow

	err error
}

// NewSQLiteWriter creates a new SQLiteWriter. The database is written to
// path with a ".sqlite3" suffix. An empty path picks a unique name. Buffered
// rows are flushed when the program exits through atexit.
func NewSQLiteWriter(path string) *SQLiteWriter {
	w := &SQLiteWriter{
		dbName:    path,
		runID:     xid.New().String(),
		batchSize: 10000,
	}

	atexit.Register(func() { _ = w.Flush() })

	return w
}

// RunID returns the ID under which this writer records.
func (w *SQLiteWriter) RunID() string {
	return w.runID
}

// FileName returns the database file name.
func (w *SQLiteWriter) FileName() string {
	return w.dbName + ".sqlite3"
}

// SetBatchSize sets how many rows of a kind are buffered before a flush.
func (w *SQLiteWriter) SetBatchSize(n int) {
	if n > 0 {
		w.batchSize = n
	}
}

// Init creates the database file and its tables.
func (w *SQLiteWriter) Init() error {
	if w.dbName == "" {
		w.dbName = "tomasim_trace_" + w.runID
	}

	filename := w.FileName()
	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return fmt.Errorf("open trace database: %w", err)
	}
	w.DB = db

	err = w.createTables()
	if err == nil {
		err = w.prepareStatements()
	}
	if err != nil {
		_ = db.Close()
		w.DB = nil
		return err
	}

	return nil
}

func (w *SQLiteWriter) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS run
		(
			run_id VARCHAR(32) NOT NULL PRIMARY KEY
		);`,
		`CREATE TABLE IF NOT EXISTS issue
		(
			run_id VARCHAR(32) NOT NULL,
			cycle  INTEGER     NOT NULL,
			inst   VARCHAR(64) NOT NULL,
			unit   VARCHAR(16) NOT NULL,
			tag    INTEGER     NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS broadcast
		(
			run_id    VARCHAR(32) NOT NULL,
			cycle     INTEGER     NOT NULL,
			unit      VARCHAR(16) NOT NULL,
			tag       INTEGER     NOT NULL,
			value     FLOAT       NOT NULL,
			poisoned  BOOLEAN     NOT NULL,
			registers INTEGER     NOT NULL,
			operands  INTEGER     NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cycle
		(
			run_id    VARCHAR(32) NOT NULL,
			cycle     INTEGER     NOT NULL,
			issued    INTEGER     NOT NULL,
			completed INTEGER     NOT NULL,
			hits      INTEGER     NOT NULL,
			misses    INTEGER     NOT NULL,
			snapshot  TEXT        NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS issue_run_cycle_index
			ON issue (run_id, cycle);`,
		`CREATE INDEX IF NOT EXISTS broadcast_run_cycle_index
			ON broadcast (run_id, cycle);`,
		`CREATE INDEX IF NOT EXISTS cycle_run_cycle_index
			ON cycle (run_id, cycle);`,
	}

	for _, s := range stmts {
		if _, err := w.Exec(s); err != nil {
			return fmt.Errorf("create trace tables: %w", err)
		}
	}

	if _, err := w.Exec(`INSERT INTO run (run_id) VALUES (?)`, w.runID); err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	return nil
}

func (w *SQLiteWriter) prepareStatements() error {
	var err error

	w.issueStatement, err = w.Prepare(
		`INSERT INTO issue (run_id, cycle, inst, unit, tag) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare issue statement: %w", err)
	}

	w.broadcastStatement, err = w.Prepare(
		`INSERT INTO broadcast
		(run_id, cycle, unit, tag, value, poisoned, registers, operands)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare broadcast statement: %w", err)
	}

	w.cycleStatement, err = w.Prepare(
		`INSERT INTO cycle
		(run_id, cycle, issued, completed, hits, misses, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare cycle statement: %w", err)
	}

	return nil
}

// Func implements sim.Hook.
func (w *SQLiteWriter) Func(ctx sim.HookCtx) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch ctx.Pos {
	case pipeline.HookPosIssue:
		e, ok := ctx.Item.(pipeline.IssueEvent)
		if !ok {
			return
		}
		w.issuesToWrite = append(w.issuesToWrite, issueRow{
			cycle: e.Cycle,
			inst:  e.Text,
			unit:  e.Unit,
			tag:   e.Tag,
		})
	case pipeline.HookPosBroadcast:
		b, ok := ctx.Item.(pipeline.Broadcast)
		if !ok {
			return
		}
		w.broadcastsToWrite = append(w.broadcastsToWrite, broadcastRow{b: b})
	case pipeline.HookPosCycleEnd:
		s, ok := ctx.Item.(pipeline.Snapshot)
		if !ok {
			return
		}
		w.addCycle(s)
	default:
		return
	}

	if w.pending() >= w.batchSize {
		w.recordErr(w.flushLocked())
	}
}

func (w *SQLiteWriter) addCycle(s pipeline.Snapshot) {
	data, err := json.Marshal(s)
	if err != nil {
		w.recordErr(fmt.Errorf("encode snapshot of cycle %d: %w", s.Cycle, err))
		return
	}

	w.cyclesToWrite = append(w.cyclesToWrite, cycleRow{
		cycle:     s.Cycle,
		issued:    s.Stats.Issued,
		completed: s.Stats.Completed,
		hits:      s.Cache.Stats.Hits,
		misses:    s.Cache.Stats.Misses,
		snapshot:  string(data),
	})
}

func (w *SQLiteWriter) pending() int {
	return max(len(w.issuesToWrite), len(w.broadcastsToWrite), len(w.cyclesToWrite))
}

func (w *SQLiteWriter) recordErr(err error) {
	if err != nil && w.err == nil {
		w.err = err
	}
}

// Err returns the first error met while writing from the hook.
func (w *SQLiteWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.err
}

// Flush writes all the buffered rows to the database.
func (w *SQLiteWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.flushLocked()
}

func (w *SQLiteWriter) flushLocked() error {
	if w.pending() == 0 {
		return nil
	}
	if w.DB == nil {
		return errors.New("trace database not initialized")
	}

	tx, err := w.Begin()
	if err != nil {
		return fmt.Errorf("begin trace transaction: %w", err)
	}

	if err := w.writeRows(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trace transaction: %w", err)
	}

	w.issuesToWrite = nil
	w.broadcastsToWrite = nil
	w.cyclesToWrite = nil

	return nil
}

func (w *SQLiteWriter) writeRows(tx *sql.Tx) error {
	issueStmt := tx.Stmt(w.issueStatement)
	for _, r := range w.issuesToWrite {
		if _, err := issueStmt.Exec(w.runID, r.cycle, r.inst, r.unit, r.tag); err != nil {
			return fmt.Errorf("insert issue event: %w", err)
		}
	}

	broadcastStmt := tx.Stmt(w.broadcastStatement)
	for _, r := range w.broadcastsToWrite {
		_, err := broadcastStmt.Exec(w.runID, r.b.Cycle, r.b.Unit, r.b.Tag,
			r.b.Value, r.b.Poisoned, r.b.Registers, r.b.Operands)
		if err != nil {
			return fmt.Errorf("insert broadcast: %w", err)
		}
	}

	cycleStmt := tx.Stmt(w.cycleStatement)
	for _, r := range w.cyclesToWrite {
		_, err := cycleStmt.Exec(w.runID, r.cycle, r.issued, r.completed,
			r.hits, r.misses, r.snapshot)
		if err != nil {
			return fmt.Errorf("insert cycle: %w", err)
		}
	}

	return nil
}

// Close flushes pending rows and closes the database.
func (w *SQLiteWriter) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if w.DB == nil {
		return nil
	}
	return w.DB.Close()
}
