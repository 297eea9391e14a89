// Package sqlitevec implements vectorstore.MemoryStore against an embedded
// on-disk SQLite database using the sqlite-vec vec0 virtual table for ANN
// search, the single-file alternative to a remote Qdrant collection named
// in §6.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/smileformylove/memscreen/vectorstore"
)

func init() {
	vec.Auto()
}

// Config describes a single vec0 collection backed by one SQLite file.
type Config struct {
	// Path is the sqlite file path, e.g. "~/.memscreen/vectors.db".
	Path string
	// Table names the vec0 virtual table and doubles as the prefix for
	// the companion payload table ("<Table>_payload").
	Table     string
	Dimension int
}

func (c *Config) validate() error {
	if c.Path == "" {
		return errors.New("memscreen: sqlitevec config: path is required")
	}
	if c.Table == "" {
		return errors.New("memscreen: sqlitevec config: table is required")
	}
	if c.Dimension <= 0 {
		return errors.New("memscreen: sqlitevec config: dimension must be > 0")
	}
	return nil
}

// Store implements vectorstore.MemoryStore. Vectors live in a vec0 virtual
// table keyed by rowid; ids and JSON payloads live in a companion table
// keyed by the same rowid, since vec0 columns hold only vectors and the
// partition-key/auxiliary scalar columns declared at creation time.
type Store struct {
	db        *sql.DB
	table     string
	payload   string
	dimension int
}

var _ vectorstore.MemoryStore = (*Store)(nil)

// New opens (and if needed creates) the vec0 table and its payload
// companion table.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("memscreen: sqlitevec: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("memscreen: sqlitevec: set WAL: %w", err)
	}

	s := &Store{db: db, table: cfg.Table, payload: cfg.Table + "_payload", dimension: cfg.Dimension}

	vecSchema := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d])`,
		s.table, cfg.Dimension,
	)
	if _, err := db.ExecContext(ctx, vecSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memscreen: sqlitevec: create vec0 table (sqlite-vec unavailable?): %w", err)
	}

	payloadSchema := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			rowid INTEGER PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			data TEXT NOT NULL,
			filters TEXT NOT NULL
		)`,
		s.payload,
	)
	if _, err := db.ExecContext(ctx, payloadSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memscreen: sqlitevec: create payload table: %w", err)
	}

	return s, nil
}

// Dimension implements vectorstore.MemoryStore.
func (s *Store) Dimension() int { return s.dimension }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) checkDimension(v []float32) error {
	if len(v) != s.dimension {
		return fmt.Errorf("%w: got %d want %d", vectorstore.ErrDimension, len(v), s.dimension)
	}
	return nil
}

// encodeFilters serializes the scope filters into the payload table's filters column so List
// can do a cheap substring-free scan without widening the schema per field.
func encodeFilters(payload map[string]any, filters map[string]string) (string, error) {
	_ = payload
	b, err := json.Marshal(filters)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// stringFilters extracts the filter-relevant subset (ScopeKey.Filters())
// from an arbitrary payload so it can be persisted alongside the blob.
func stringFilters(payload map[string]any, keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				out[k] = s
			}
		}
	}
	return out
}

// scopeFilterKeys names the payload fields persisted as filterable columns;
// these mirror memory.ScopeKey.Filters().
var scopeFilterKeys = []string{"user_id", "agent_id", "run_id"}

// Insert implements vectorstore.MemoryStore.
func (s *Store) Insert(ctx context.Context, ids []string, vectors [][]float32, payloads []map[string]any) error {
	if len(ids) != len(vectors) || len(ids) != len(payloads) {
		return errors.New("memscreen: sqlitevec: ids/vectors/payloads length mismatch")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, id := range ids {
		if err := s.checkDimension(vectors[i]); err != nil {
			return err
		}
		if err := s.insertOne(ctx, tx, id, vectors[i], payloads[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) insertOne(ctx context.Context, tx *sql.Tx, id string, vector []float32, payload map[string]any) error {
	blob, err := vec.SerializeFloat32(vector)
	if err != nil {
		return fmt.Errorf("memscreen: sqlitevec: serialize vector: %w", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("memscreen: sqlitevec: marshal payload: %w", err)
	}
	filters, err := encodeFilters(payload, stringFilters(payload, scopeFilterKeys))
	if err != nil {
		return err
	}

	// Replace any existing row for this id so Insert also serves as Upsert.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.payload), id); err != nil {
		return fmt.Errorf("memscreen: sqlitevec: clear existing payload: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, data, filters) VALUES (?, ?, ?)", s.payload),
		id, string(data), filters,
	)
	if err != nil {
		return fmt.Errorf("memscreen: sqlitevec: insert payload: %w", err)
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", s.table), rowid,
	); err != nil {
		return fmt.Errorf("memscreen: sqlitevec: clear existing vector: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (rowid, embedding) VALUES (?, ?)", s.table),
		rowid, blob,
	); err != nil {
		return fmt.Errorf("memscreen: sqlitevec: insert vector: %w", err)
	}

	return nil
}

// Update implements vectorstore.MemoryStore. A nil vector leaves the
// stored vector unchanged; the given payload keys are merged into the
// stored payload, so a nil payload leaves it unchanged.
func (s *Store) Update(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if vector == nil {
		vector = existing.Vector
	}
	merged := existing.Payload
	if merged == nil {
		merged = make(map[string]any, len(payload))
	}
	for k, v := range payload {
		merged[k] = v
	}
	return s.Insert(ctx, []string{id}, [][]float32{vector}, []map[string]any{merged})
}

// Delete implements vectorstore.MemoryStore; it is idempotent.
func (s *Store) Delete(ctx context.Context, id string) error {
	var rowid int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT rowid FROM %s WHERE id = ?", s.payload), id).Scan(&rowid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("memscreen: sqlitevec: lookup for delete: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", s.table), rowid); err != nil {
		return fmt.Errorf("memscreen: sqlitevec: delete vector: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", s.payload), rowid); err != nil {
		return fmt.Errorf("memscreen: sqlitevec: delete payload: %w", err)
	}
	return tx.Commit()
}

// Get implements vectorstore.MemoryStore.
func (s *Store) Get(ctx context.Context, id string) (*vectorstore.Point, error) {
	var rowid int64
	var data string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT rowid, data FROM %s WHERE id = ?", s.payload), id,
	).Scan(&rowid, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vectorstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memscreen: sqlitevec: get: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("memscreen: sqlitevec: decode payload: %w", err)
	}

	var blob []byte
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT embedding FROM %s WHERE rowid = ?", s.table), rowid,
	).Scan(&blob); err != nil {
		return nil, fmt.Errorf("memscreen: sqlitevec: get vector: %w", err)
	}
	vector, err := deserializeFloat32(blob, s.dimension)
	if err != nil {
		return nil, err
	}

	return &vectorstore.Point{ID: id, Vector: vector, Payload: payload}, nil
}

// List implements vectorstore.MemoryStore. filters matches against the
// scope columns persisted at insert time, conjunctively.
func (s *Store) List(ctx context.Context, filters map[string]string, limit int) ([]*vectorstore.Point, error) {
	query := fmt.Sprintf("SELECT id, data, filters FROM %s", s.payload)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit*4) // overfetch; filtered in Go below
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memscreen: sqlitevec: list: %w", err)
	}
	defer rows.Close()

	var out []*vectorstore.Point
	for rows.Next() {
		var id, data, rowFilters string
		if err := rows.Scan(&id, &data, &rowFilters); err != nil {
			return nil, err
		}
		if !matchesFilters(rowFilters, filters) {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil, fmt.Errorf("memscreen: sqlitevec: decode payload: %w", err)
		}
		out = append(out, &vectorstore.Point{ID: id, Payload: payload})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func matchesFilters(encoded string, want map[string]string) bool {
	if len(want) == 0 {
		return true
	}
	var have map[string]string
	if err := json.Unmarshal([]byte(encoded), &have); err != nil {
		return false
	}
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// Search implements vectorstore.MemoryStore via a vec0 MATCH k-NN query,
// ordered ascending by distance (converted to a [0,1] cosine-equivalent
// score via 1/(1+distance)), then post-filtered on scope.
func (s *Store) Search(ctx context.Context, vector []float32, limit int, filters map[string]string) ([]vectorstore.Hit, error) {
	if err := s.checkDimension(vector); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	blob, err := vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("memscreen: sqlitevec: serialize query vector: %w", err)
	}

	// Overfetch to leave room for scope post-filtering.
	k := limit
	if len(filters) > 0 {
		k = limit * 8
	}

	query := fmt.Sprintf(
		`SELECT rowid, distance FROM %s WHERE embedding MATCH ? AND k = ? ORDER BY distance`,
		s.table,
	)
	rows, err := s.db.QueryContext(ctx, query, blob, k)
	if err != nil {
		return nil, fmt.Errorf("memscreen: sqlitevec: knn query: %w", err)
	}
	defer rows.Close()

	var out []vectorstore.Hit
	for rows.Next() {
		var rowid int64
		var distance float64
		if err := rows.Scan(&rowid, &distance); err != nil {
			return nil, err
		}

		var id, data, rowFilters string
		if err := s.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT id, data, filters FROM %s WHERE rowid = ?", s.payload), rowid,
		).Scan(&id, &data, &rowFilters); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("memscreen: sqlitevec: load payload for hit: %w", err)
		}
		if !matchesFilters(rowFilters, filters) {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil, fmt.Errorf("memscreen: sqlitevec: decode payload: %w", err)
		}

		out = append(out, vectorstore.Hit{ID: id, Score: 1 / (1 + distance), Payload: payload})
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// Reset implements vectorstore.MemoryStore by truncating both tables.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return fmt.Errorf("memscreen: sqlitevec: reset vectors: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.payload)); err != nil {
		return fmt.Errorf("memscreen: sqlitevec: reset payload: %w", err)
	}
	return tx.Commit()
}

func deserializeFloat32(blob []byte, dimension int) ([]float32, error) {
	out, err := vec.DeserializeFloat32(blob)
	if err != nil {
		return nil, fmt.Errorf("memscreen: sqlitevec: deserialize vector: %w", err)
	}
	if len(out) != dimension {
		return nil, fmt.Errorf("%w: stored %d want %d", vectorstore.ErrDimension, len(out), dimension)
	}
	return out, nil
}
