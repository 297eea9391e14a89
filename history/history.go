// Package history implements C4: an append-only SQLite log of every
// memory mutation, batched for throughput with DELETE events flushed
// immediately (§4.4, §6).
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/smileformylove/memscreen/memory"
)

// Row is one history record, matching the §6 schema.
type Row struct {
	ID         string
	MemoryID   string
	OldMemory  string
	NewMemory  string
	Event      memory.EventKind
	CreatedAt  time.Time
	UpdatedAt  time.Time
	IsDeleted  bool
	ActorID    string
	Role       string
}

// Config configures a Log.
type Config struct {
	// Path is the sqlite file path, or ":memory:" for an ephemeral log.
	Path string
	// BatchSize is the number of queued non-DELETE rows that trigger an
	// automatic flush. Default 50.
	BatchSize int
	// FlushInterval is the maximum time a row waits in the queue before
	// an automatic flush. Default 1s.
	FlushInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BatchSize <= 0 {
		out.BatchSize = 50
	}
	if out.FlushInterval <= 0 {
		out.FlushInterval = time.Second
	}
	return out
}

// Log is the C4 contract: add_history / get_history / reset, per §4.4.
// Writes are serialized by a single process-level mutex; DELETE events
// bypass the batch queue and are written immediately (§4.4's "last writer
// wins in the vector store; the history log preserves both" demands every
// DELETE be durable before the caller that issued it observes success).
type Log struct {
	db  *sql.DB
	cfg Config

	mu      sync.Mutex
	writeMu sync.Mutex
	queue   []Row
	idGen   func() string
	nowFunc func() time.Time
	timer   *time.Timer
}

// New opens (migrating if necessary) the history database at cfg.Path.
func New(ctx context.Context, cfg Config) (*Log, error) {
	resolved := cfg.withDefaults()

	db, err := sql.Open("sqlite3", resolved.Path)
	if err != nil {
		return nil, fmt.Errorf("memscreen: history: open %s: %w", resolved.Path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("memscreen: history: %s: %w", pragma, err)
		}
	}

	l := &Log{db: db, cfg: resolved, idGen: newID, nowFunc: time.Now}

	if err := l.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := l.createTable(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return l, nil
}

var expectedColumns = []string{
	"id", "memory_id", "old_memory", "new_memory", "event",
	"created_at", "updated_at", "is_deleted", "actor_id", "role",
}

// migrate renames a pre-existing history table with a different column
// set aside, recreates the current schema, copies the intersecting
// columns across, and drops the renamed table — all in one transaction.
func (l *Log) migrate(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var name string
	err = tx.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='history'").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return tx.Commit() // nothing to migrate
	}
	if err != nil {
		return fmt.Errorf("memscreen: history: check existing table: %w", err)
	}

	rows, err := tx.QueryContext(ctx, "PRAGMA table_info(history)")
	if err != nil {
		return fmt.Errorf("memscreen: history: inspect columns: %w", err)
	}
	existing := map[string]bool{}
	for rows.Next() {
		var cid int
		var colName, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		existing[colName] = true
	}
	rows.Close()

	if sameColumnSet(existing, expectedColumns) {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS history_old"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "ALTER TABLE history RENAME TO history_old"); err != nil {
		return fmt.Errorf("memscreen: history: rename for migration: %w", err)
	}
	if _, err := tx.ExecContext(ctx, historySchema); err != nil {
		return fmt.Errorf("memscreen: history: recreate schema: %w", err)
	}

	var intersecting []string
	for _, col := range expectedColumns {
		if existing[col] {
			intersecting = append(intersecting, col)
		}
	}
	if len(intersecting) > 0 {
		cols := joinColumns(intersecting)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO history (%s) SELECT %s FROM history_old", cols, cols)); err != nil {
			return fmt.Errorf("memscreen: history: copy intersecting columns: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE history_old"); err != nil {
		return err
	}

	return tx.Commit()
}

func sameColumnSet(have map[string]bool, want []string) bool {
	if len(have) != len(want) {
		return false
	}
	for _, w := range want {
		if !have[w] {
			return false
		}
	}
	return true
}

func joinColumns(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}
	return out
}

const historySchema = `
CREATE TABLE history (
	id         TEXT PRIMARY KEY,
	memory_id  TEXT,
	old_memory TEXT,
	new_memory TEXT,
	event      TEXT,
	created_at DATETIME,
	updated_at DATETIME,
	is_deleted INTEGER,
	actor_id   TEXT,
	role       TEXT
)`

func (l *Log) createTable(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS history ("+
		"id TEXT PRIMARY KEY, memory_id TEXT, old_memory TEXT, new_memory TEXT, event TEXT, "+
		"created_at DATETIME, updated_at DATETIME, is_deleted INTEGER, actor_id TEXT, role TEXT)")
	if err != nil {
		return fmt.Errorf("memscreen: history: create table: %w", err)
	}
	return nil
}

// Add queues (or, for DELETE events and when immediate is true, writes
// synchronously) one history row. A full queue triggers an automatic
// flush inline — the caller observes the flush's latency, not an error.
func (l *Log) Add(ctx context.Context, memoryID, oldMemory, newMemory string, event memory.EventKind, actorID, role string, immediate bool) error {
	row := Row{
		ID:        l.idGen(),
		MemoryID:  memoryID,
		OldMemory: oldMemory,
		NewMemory: newMemory,
		Event:     event,
		CreatedAt: l.nowFunc(),
		UpdatedAt: l.nowFunc(),
		IsDeleted: event == memory.EventDelete,
		ActorID:   actorID,
		Role:      role,
	}

	if immediate || event == memory.EventDelete {
		return l.writeRows(ctx, []Row{row})
	}

	l.mu.Lock()
	l.queue = append(l.queue, row)
	shouldFlush := len(l.queue) >= l.cfg.BatchSize
	var toFlush []Row
	if shouldFlush {
		toFlush = l.queue
		l.queue = nil
	} else if l.timer == nil {
		l.timer = time.AfterFunc(l.cfg.FlushInterval, func() {
			l.mu.Lock()
			l.timer = nil
			l.mu.Unlock()
			_ = l.Flush(context.Background())
		})
	}
	l.mu.Unlock()

	if shouldFlush {
		return l.writeRows(ctx, toFlush)
	}
	return nil
}

// Flush writes every queued row to disk, in a single transaction. Per
// P8, a failed flush leaves the queue untouched so a subsequent flush
// can retry the same rows.
func (l *Log) Flush(ctx context.Context) error {
	l.mu.Lock()
	toFlush := l.queue
	l.queue = nil
	l.mu.Unlock()

	if len(toFlush) == 0 {
		return nil
	}
	if err := l.writeRows(ctx, toFlush); err != nil {
		l.mu.Lock()
		l.queue = append(toFlush, l.queue...)
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *Log) writeRows(ctx context.Context, rows []Row) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	write := func() error {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO history (id, memory_id, old_memory, new_memory, event,
				created_at, updated_at, is_deleted, actor_id, role)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			isDeleted := 0
			if r.IsDeleted {
				isDeleted = 1
			}
			if _, err := stmt.ExecContext(ctx, r.ID, r.MemoryID, r.OldMemory, r.NewMemory,
				string(r.Event), r.CreatedAt, r.UpdatedAt, isDeleted, r.ActorID, r.Role); err != nil {
				return err
			}
		}
		return tx.Commit()
	}

	if err := write(); err != nil {
		// Single retry on transient write failures (busy/locked), matching
		// the single-writer-mutex discipline described in §4.4.
		if err2 := write(); err2 != nil {
			return fmt.Errorf("memscreen: history: flush failed after retry: %w", err2)
		}
	}
	return nil
}

// Get returns every row for memoryID, ordered by (created_at, updated_at).
func (l *Log) Get(ctx context.Context, memoryID string) ([]Row, error) {
	if err := l.Flush(ctx); err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, memory_id, old_memory, new_memory, event,
			created_at, updated_at, is_deleted, actor_id, role
		FROM history WHERE memory_id = ?
		ORDER BY created_at ASC, updated_at ASC`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("memscreen: history: get: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var event string
		var isDeleted int
		if err := rows.Scan(&r.ID, &r.MemoryID, &r.OldMemory, &r.NewMemory, &event,
			&r.CreatedAt, &r.UpdatedAt, &isDeleted, &r.ActorID, &r.Role); err != nil {
			return nil, err
		}
		r.Event = memory.EventKind(event)
		r.IsDeleted = isDeleted != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Reset drops and recreates the history table, discarding any queued
// unflushed rows.
func (l *Log) Reset(ctx context.Context) error {
	l.mu.Lock()
	l.queue = nil
	l.mu.Unlock()

	if _, err := l.db.ExecContext(ctx, "DROP TABLE IF EXISTS history"); err != nil {
		return fmt.Errorf("memscreen: history: reset: %w", err)
	}
	return l.createTable(ctx)
}

// Close flushes pending rows and closes the underlying database handle.
func (l *Log) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.mu.Unlock()
	if err := l.Flush(ctx); err != nil {
		return err
	}
	return l.db.Close()
}

func newID() string {
	return uuid.NewString()
}
