package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studytime-hub/leaderboard-worker/internal/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEMA
// ══════════════════════════════════════════════════════════════════════════════

// The tree lives in leaf rows: objects are flattened at write time, so a row
// holds a scalar, an array, or null, never a nested object. text_pattern_ops
// keeps the LIKE 'prefix/%' scans on the index.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS tree_nodes (
    path       TEXT PRIMARY KEY,
    value      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tree_nodes_path_pattern
    ON tree_nodes (path text_pattern_ops);
`

// ══════════════════════════════════════════════════════════════════════════════
// TREE STORE
// ══════════════════════════════════════════════════════════════════════════════

// TreeStore implements store.Store on PostgreSQL.
type TreeStore struct {
	pool   *pgxpool.Pool
	mu     sync.RWMutex
	closed bool
}

// NewTreeStore creates a tree store from structured configuration and applies
// the schema.
func NewTreeStore(ctx context.Context, cfg Config) (*TreeStore, error) {
	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := connect(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	ts := &TreeStore{pool: pool}
	if err := ts.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return ts, nil
}

// NewTreeStoreFromURL creates a tree store from a database URL.
func NewTreeStoreFromURL(ctx context.Context, databaseURL string) (*TreeStore, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse database URL: %w", err)
	}
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 10
	}

	pool, err := connect(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	ts := &TreeStore{pool: pool}
	if err := ts.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return ts, nil
}

// migrate applies the schema.
func (s *TreeStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks if the database connection is alive.
func (s *TreeStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrConnectionClosed
	}
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *TreeStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pool.Close()
}

// ReadSubtree returns the JSON value rooted at path, reassembled from the
// leaf rows, or nil when nothing is stored there.
func (s *TreeStore) ReadSubtree(ctx context.Context, path string) (json.RawMessage, error) {
	if path == "" {
		return nil, store.ErrEmptyPath
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrConnectionClosed
	}

	rows, err := s.pool.Query(ctx,
		`SELECT path, value FROM tree_nodes WHERE path = $1 OR path LIKE $1 || '/%'`,
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: read subtree %q: %w", path, err)
	}
	defer rows.Close()

	leaves := make(map[string]json.RawMessage)
	for rows.Next() {
		var rowPath string
		var value json.RawMessage
		if err := rows.Scan(&rowPath, &value); err != nil {
			return nil, fmt.Errorf("postgres: scan subtree row: %w", err)
		}
		leaves[rowPath] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read subtree %q: %w", path, err)
	}

	if len(leaves) == 0 {
		return nil, nil
	}

	// Exact leaf hit: the value is stored whole.
	if value, ok := leaves[path]; ok && len(leaves) == 1 {
		return value, nil
	}

	return assemble(path, leaves)
}

// assemble reconstructs the nested object from leaf rows under prefix.
func assemble(prefix string, leaves map[string]json.RawMessage) (json.RawMessage, error) {
	root := make(map[string]any)

	paths := make([]string, 0, len(leaves))
	for p := range leaves {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if p == prefix {
			// A leaf shadowed by deeper rows should not happen; deeper rows win.
			continue
		}
		rel := strings.TrimPrefix(p, prefix+"/")
		segments := strings.Split(rel, "/")

		node := root
		for _, seg := range segments[:len(segments)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}

		var value any
		if err := json.Unmarshal(leaves[p], &value); err != nil {
			return nil, fmt.Errorf("postgres: corrupt leaf %q: %w", p, err)
		}
		node[segments[len(segments)-1]] = value
	}

	data, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("postgres: assemble subtree %q: %w", prefix, err)
	}
	return data, nil
}

// ApplyDelta applies all writes in one transaction: the delta lands entirely
// or not at all.
func (s *TreeStore) ApplyDelta(ctx context.Context, delta *store.Delta) error {
	if delta == nil || delta.IsEmpty() {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrConnectionClosed
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin delta: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	err = delta.Each(func(path string, value any) error {
		if path == "" {
			return store.ErrEmptyPath
		}
		if value == nil {
			queueDelete(batch, path)
			return nil
		}
		return queueSet(batch, path, value)
	})
	if err != nil {
		return fmt.Errorf("postgres: build delta batch: %w", err)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: apply delta: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit delta: %w", err)
	}
	return nil
}

// queueDelete removes the subtree rooted at path.
func queueDelete(batch *pgx.Batch, path string) {
	batch.Queue(
		`DELETE FROM tree_nodes WHERE path = $1 OR path LIKE $1 || '/%'`,
		path,
	)
}

// queueSet replaces the subtree rooted at path with value, flattening nested
// objects into leaf rows. Ancestor leaf rows are removed so a path never has
// both a stored value and stored children.
func queueSet(batch *pgx.Batch, path string, value any) error {
	queueDelete(batch, path)

	segments := strings.Split(path, "/")
	for i := 1; i < len(segments); i++ {
		ancestor := strings.Join(segments[:i], "/")
		batch.Queue(`DELETE FROM tree_nodes WHERE path = $1`, ancestor)
	}

	return queueLeaves(batch, path, value)
}

// queueLeaves recursively queues the leaf inserts for value at path.
func queueLeaves(batch *pgx.Batch, path string, value any) error {
	// Normalize through JSON so arbitrary structs flatten the same way their
	// wire form would.
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value at %q: %w", path, err)
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("normalize value at %q: %w", path, err)
	}

	if obj, ok := decoded.(map[string]any); ok {
		// An empty object is treated as absence, same as the tree contract.
		for key, child := range obj {
			if err := queueLeaves(batch, path+"/"+key, child); err != nil {
				return err
			}
		}
		return nil
	}

	leaf, err := json.Marshal(decoded)
	if err != nil {
		return fmt.Errorf("marshal leaf at %q: %w", path, err)
	}

	batch.Queue(
		`INSERT INTO tree_nodes (path, value, updated_at) VALUES ($1, $2, now())
         ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		path, leaf,
	)
	return nil
}
