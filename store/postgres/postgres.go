// Package postgres implements mergerag.IndexStore on PostgreSQL. All corpora
// share one set of tables keyed by corpus id.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor injection.
// The caller creates and closes the pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/mergerag"
)

// SchemaVersion is stored with every snapshot. Rows with another version are
// reported as corrupt and rebuilt.
const SchemaVersion = 1

// Store implements mergerag.IndexStore backed by PostgreSQL. Vectors are
// stored as real[] so they round-trip without loss.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	tablePrefix string
	logger      *slog.Logger
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithTablePrefix sets the prefix of the store's tables. Default "mergerag_".
func WithTablePrefix(p string) Option {
	return func(c *pgConfig) { c.tablePrefix = p }
}

// WithLogger sets a structured logger for the store. If not set, no logs are
// emitted.
func WithLogger(l *slog.Logger) Option {
	return func(c *pgConfig) { c.logger = l }
}

var _ mergerag.IndexStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	cfg := pgConfig{tablePrefix: "mergerag_", logger: nopLogger}
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

func (s *Store) table(name string) string {
	return pgx.Identifier{s.cfg.tablePrefix + name}.Sanitize()
}

// Init creates the store's tables. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			corpus_id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			hierarchical BOOLEAN NOT NULL,
			fingerprint TEXT NOT NULL,
			built_at BIGINT NOT NULL
		)`, s.table("meta")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			corpus_id TEXT NOT NULL,
			id TEXT NOT NULL,
			position INTEGER NOT NULL,
			level INTEGER NOT NULL,
			parent_id TEXT,
			child_ids TEXT[],
			content TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset INTEGER NOT NULL,
			PRIMARY KEY (corpus_id, id)
		)`, s.table("nodes")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			corpus_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			embedding REAL[] NOT NULL,
			PRIMARY KEY (corpus_id, node_id)
		)`, s.table("vectors")),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// Load reads the snapshot of corpusID. It returns mergerag.ErrSnapshotNotFound
// when no snapshot was saved. All reads share one repeatable-read transaction
// so a concurrent Save is seen entirely or not at all.
func (s *Store) Load(ctx context.Context, corpusID string) (mergerag.Snapshot, error) {
	start := time.Now()
	snap := mergerag.Snapshot{CorpusID: corpusID}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return mergerag.Snapshot{}, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var version int
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT schema_version, hierarchical, fingerprint, built_at FROM %s WHERE corpus_id = $1`, s.table("meta")),
		corpusID).Scan(&version, &snap.Hierarchical, &snap.Fingerprint, &snap.BuiltAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return mergerag.Snapshot{}, fmt.Errorf("postgres: corpus %s: %w", corpusID, mergerag.ErrSnapshotNotFound)
	}
	if err != nil {
		return mergerag.Snapshot{}, fmt.Errorf("postgres: read meta: %w", err)
	}
	if version != SchemaVersion {
		return mergerag.Snapshot{}, fmt.Errorf("postgres: schema version %d, want %d", version, SchemaVersion)
	}

	rows, err := tx.Query(ctx,
		fmt.Sprintf(`SELECT id, level, parent_id, child_ids, content, start_offset, end_offset
		 FROM %s WHERE corpus_id = $1 ORDER BY position`, s.table("nodes")),
		corpusID)
	if err != nil {
		return mergerag.Snapshot{}, fmt.Errorf("postgres: read nodes: %w", err)
	}
	snap.Nodes, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (mergerag.Node, error) {
		var n mergerag.Node
		var parentID *string
		err := row.Scan(&n.ID, &n.Level, &parentID, &n.ChildIDs, &n.Text, &n.Start, &n.End)
		if parentID != nil {
			n.ParentID = *parentID
		}
		if len(n.ChildIDs) == 0 {
			n.ChildIDs = nil
		}
		return n, err
	})
	if err != nil {
		return mergerag.Snapshot{}, fmt.Errorf("postgres: scan nodes: %w", err)
	}

	rows, err = tx.Query(ctx,
		fmt.Sprintf(`SELECT node_id, embedding FROM %s WHERE corpus_id = $1`, s.table("vectors")),
		corpusID)
	if err != nil {
		return mergerag.Snapshot{}, fmt.Errorf("postgres: read vectors: %w", err)
	}
	defer rows.Close()
	snap.Vectors = make(map[string][]float32)
	for rows.Next() {
		var id string
		var vec []float32
		if err := rows.Scan(&id, &vec); err != nil {
			return mergerag.Snapshot{}, fmt.Errorf("postgres: scan vector: %w", err)
		}
		snap.Vectors[id] = vec
	}
	if err := rows.Err(); err != nil {
		return mergerag.Snapshot{}, fmt.Errorf("postgres: read vectors: %w", err)
	}

	s.cfg.logger.Debug("postgres: load ok", "corpus", corpusID, "nodes", len(snap.Nodes), "vectors", len(snap.Vectors), "duration", time.Since(start))
	return snap, nil
}

// Save replaces the snapshot of snap.CorpusID in a single transaction.
func (s *Store) Save(ctx context.Context, snap mergerag.Snapshot) error {
	start := time.Now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, name := range []string{"vectors", "nodes", "meta"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE corpus_id = $1`, s.table(name)), snap.CorpusID); err != nil {
			return fmt.Errorf("postgres: clear %s: %w", name, err)
		}
	}

	_, err = tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (corpus_id, schema_version, hierarchical, fingerprint, built_at)
		 VALUES ($1, $2, $3, $4, $5)`, s.table("meta")),
		snap.CorpusID, SchemaVersion, snap.Hierarchical, snap.Fingerprint, snap.BuiltAt)
	if err != nil {
		return fmt.Errorf("postgres: insert meta: %w", err)
	}

	nodeRows := make([][]any, len(snap.Nodes))
	for i, n := range snap.Nodes {
		var parentID *string
		if n.ParentID != "" {
			parentID = &n.ParentID
		}
		nodeRows[i] = []any{snap.CorpusID, n.ID, i, n.Level, parentID, n.ChildIDs, n.Text, n.Start, n.End}
	}
	_, err = tx.CopyFrom(ctx, pgx.Identifier{s.cfg.tablePrefix + "nodes"},
		[]string{"corpus_id", "id", "position", "level", "parent_id", "child_ids", "content", "start_offset", "end_offset"},
		pgx.CopyFromRows(nodeRows))
	if err != nil {
		s.cfg.logger.Error("postgres: copy nodes failed", "corpus", snap.CorpusID, "error", err)
		return fmt.Errorf("postgres: insert nodes: %w", err)
	}

	vecRows := make([][]any, 0, len(snap.Vectors))
	for id, vec := range snap.Vectors {
		vecRows = append(vecRows, []any{snap.CorpusID, id, vec})
	}
	_, err = tx.CopyFrom(ctx, pgx.Identifier{s.cfg.tablePrefix + "vectors"},
		[]string{"corpus_id", "node_id", "embedding"},
		pgx.CopyFromRows(vecRows))
	if err != nil {
		return fmt.Errorf("postgres: insert vectors: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	s.cfg.logger.Debug("postgres: save ok", "corpus", snap.CorpusID, "nodes", len(snap.Nodes), "vectors", len(snap.Vectors), "duration", time.Since(start))
	return nil
}

// Remove deletes the snapshot of corpusID.
func (s *Store) Remove(ctx context.Context, corpusID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	for _, name := range []string{"vectors", "nodes", "meta"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE corpus_id = $1`, s.table(name)), corpusID); err != nil {
			return fmt.Errorf("postgres: delete %s: %w", name, err)
		}
	}
	return tx.Commit(ctx)
}
