// Package sqlite implements mergerag.IndexStore using pure-Go SQLite.
// Each corpus gets its own database file under a root directory, so corpora
// can be rebuilt or removed independently. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nevindra/mergerag"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SchemaVersion is written to the meta table. Files with another version are
// reported as corrupt and rebuilt.
const SchemaVersion = 1

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every load and save including
// timing and row counts. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements mergerag.IndexStore with one SQLite file per corpus at
// <root>/data_<corpus id>/index.db.
type Store struct {
	root   string
	logger *slog.Logger
}

var _ mergerag.IndexStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store rooted at root. Nothing is created until the first Save.
func New(root string, opts ...StoreOption) *Store {
	s := &Store{root: root, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Path returns the database file used for corpusID.
func (s *Store) Path(corpusID string) (string, error) {
	if corpusID == "" || corpusID == "." || corpusID == ".." || strings.ContainsAny(corpusID, `/\`) {
		return "", fmt.Errorf("invalid corpus id %q", corpusID)
	}
	return filepath.Join(s.root, "data_"+corpusID, "index.db"), nil
}

// open opens the database at path with a single shared connection so writes
// never race on SQLITE_BUSY.
func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

var schema = []string{
	`CREATE TABLE meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE nodes (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		level INTEGER NOT NULL,
		parent_id TEXT,
		child_ids TEXT,
		content TEXT NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL
	)`,
	`CREATE TABLE vectors (
		node_id TEXT PRIMARY KEY,
		embedding TEXT NOT NULL
	)`,
}

// Load reads the snapshot of corpusID. A missing database file yields
// mergerag.ErrSnapshotNotFound and is not created.
func (s *Store) Load(ctx context.Context, corpusID string) (mergerag.Snapshot, error) {
	start := time.Now()
	path, err := s.Path(corpusID)
	if err != nil {
		return mergerag.Snapshot{}, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("sqlite: no index file", "corpus", corpusID, "path", path)
			return mergerag.Snapshot{}, fmt.Errorf("%s: %w", path, mergerag.ErrSnapshotNotFound)
		}
		return mergerag.Snapshot{}, err
	}

	db, err := open(path)
	if err != nil {
		return mergerag.Snapshot{}, err
	}
	defer db.Close()

	snap, err := readMeta(ctx, db)
	if err != nil {
		return mergerag.Snapshot{}, err
	}
	if snap.Nodes, err = readNodes(ctx, db); err != nil {
		return mergerag.Snapshot{}, err
	}
	if snap.Vectors, err = readVectors(ctx, db); err != nil {
		return mergerag.Snapshot{}, err
	}

	s.logger.Debug("sqlite: load ok", "corpus", corpusID, "nodes", len(snap.Nodes), "vectors", len(snap.Vectors), "duration", time.Since(start))
	return snap, nil
}

func readMeta(ctx context.Context, db *sql.DB) (mergerag.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return mergerag.Snapshot{}, fmt.Errorf("read meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return mergerag.Snapshot{}, fmt.Errorf("scan meta: %w", err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return mergerag.Snapshot{}, fmt.Errorf("read meta: %w", err)
	}

	if v := meta["schema_version"]; v != strconv.Itoa(SchemaVersion) {
		return mergerag.Snapshot{}, fmt.Errorf("schema version %q, want %d", v, SchemaVersion)
	}
	builtAt, err := strconv.ParseInt(meta["built_at"], 10, 64)
	if err != nil {
		return mergerag.Snapshot{}, fmt.Errorf("meta built_at: %w", err)
	}
	return mergerag.Snapshot{
		CorpusID:     meta["corpus_id"],
		Hierarchical: meta["hierarchical"] == "1",
		Fingerprint:  meta["fingerprint"],
		BuiltAt:      builtAt,
	}, nil
}

func readNodes(ctx context.Context, db *sql.DB) ([]mergerag.Node, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, level, parent_id, child_ids, content, start_offset, end_offset
		 FROM nodes ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("read nodes: %w", err)
	}
	defer rows.Close()

	var nodes []mergerag.Node
	for rows.Next() {
		var n mergerag.Node
		var parentID, childIDs sql.NullString
		if err := rows.Scan(&n.ID, &n.Level, &parentID, &childIDs, &n.Text, &n.Start, &n.End); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.ParentID = parentID.String
		if childIDs.Valid && childIDs.String != "" {
			if err := json.Unmarshal([]byte(childIDs.String), &n.ChildIDs); err != nil {
				return nil, fmt.Errorf("node %s child ids: %w", n.ID, err)
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func readVectors(ctx context.Context, db *sql.DB) (map[string][]float32, error) {
	rows, err := db.QueryContext(ctx, `SELECT node_id, embedding FROM vectors`)
	if err != nil {
		return nil, fmt.Errorf("read vectors: %w", err)
	}
	defer rows.Close()

	vectors := make(map[string][]float32)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		vec, err := deserializeEmbedding(raw)
		if err != nil {
			return nil, fmt.Errorf("vector %s: %w", id, err)
		}
		vectors[id] = vec
	}
	return vectors, rows.Err()
}

// Save writes snap to a fresh database beside the current one and renames it
// into place, so readers see either the old snapshot or the new one and a
// corrupt or outdated file never blocks a rebuild.
func (s *Store) Save(ctx context.Context, snap mergerag.Snapshot) error {
	start := time.Now()
	path, err := s.Path(snap.CorpusID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := removeDB(tmp); err != nil {
		return fmt.Errorf("clear stale temp index: %w", err)
	}
	if err := s.write(ctx, tmp, snap); err != nil {
		removeDB(tmp) //nolint:errcheck
		return err
	}
	// A journal left by the old file must not be replayed onto the new one.
	if err := os.Remove(path + "-journal"); err != nil && !errors.Is(err, os.ErrNotExist) {
		removeDB(tmp) //nolint:errcheck
		return fmt.Errorf("clear journal: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		removeDB(tmp) //nolint:errcheck
		return fmt.Errorf("replace index: %w", err)
	}
	s.logger.Debug("sqlite: save ok", "corpus", snap.CorpusID, "path", path, "nodes", len(snap.Nodes), "vectors", len(snap.Vectors), "duration", time.Since(start))
	return nil
}

// removeDB deletes a database file and its rollback journal if present.
func removeDB(path string) error {
	for _, p := range []string{path, path + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// write creates a database at path holding snap. The connection is closed
// before write returns so the file can be renamed.
func (s *Store) write(ctx context.Context, path string, snap mergerag.Snapshot) error {
	db, err := open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, ddl := range schema {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	meta := map[string]string{
		"schema_version": strconv.Itoa(SchemaVersion),
		"corpus_id":      snap.CorpusID,
		"hierarchical":   boolString(snap.Hierarchical),
		"fingerprint":    snap.Fingerprint,
		"built_at":       strconv.FormatInt(snap.BuiltAt, 10),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("insert meta: %w", err)
		}
	}

	for i, n := range snap.Nodes {
		var parentID, childIDs *string
		if n.ParentID != "" {
			parentID = &n.ParentID
		}
		if len(n.ChildIDs) > 0 {
			data, _ := json.Marshal(n.ChildIDs)
			v := string(data)
			childIDs = &v
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO nodes (id, position, level, parent_id, child_ids, content, start_offset, end_offset)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, i, n.Level, parentID, childIDs, n.Text, n.Start, n.End,
		)
		if err != nil {
			s.logger.Error("sqlite: insert node failed", "corpus", snap.CorpusID, "node_id", n.ID, "error", err)
			return fmt.Errorf("insert node: %w", err)
		}
	}

	for id, vec := range snap.Vectors {
		if _, err := tx.ExecContext(ctx, `INSERT INTO vectors (node_id, embedding) VALUES (?, ?)`, id, serializeEmbedding(vec)); err != nil {
			return fmt.Errorf("insert vector: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: save commit failed", "corpus", snap.CorpusID, "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// Remove deletes the stored index of corpusID. Removing a corpus that was
// never saved is not an error.
func (s *Store) Remove(corpusID string) error {
	path, err := s.Path(corpusID)
	if err != nil {
		return err
	}
	return os.RemoveAll(filepath.Dir(path))
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
