package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/kailas-cloud/recall/internal/domain"
)

const dbFileName = "recall.db"

// dimensionKey records the embedding dimension of the first stored vector;
// all later writes must match it.
const dimensionKey = "embedding_dim"

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	embedding  BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

// SQLite is an on-disk Store backed by a single SQLite file inside the
// database directory. Similarity search is a brute-force cosine scan, which
// is adequate at chat-log scale.
type SQLite struct {
	db *sql.DB
}

// Compile-time checks: SQLite implements Store and KV.
var (
	_ Store = (*SQLite)(nil)
	_ KV    = (*SQLite)(nil)
)

// Open creates the database directory if needed and opens (or initializes)
// the store file inside it.
func Open(dir string) (*SQLite, error) {
	if dir == "" {
		return nil, fmt.Errorf("database directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := filepath.Join(dir, dbFileName) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Put upserts a single record.
func (s *SQLite) Put(ctx context.Context, rec Record) error {
	return s.PutBatch(ctx, []Record{rec})
}

// PutBatch upserts records in one transaction. Replaying the same chunk IDs
// replaces rows instead of duplicating them.
func (s *SQLite) PutBatch(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	dim := len(recs[0].Embedding)
	for _, rec := range recs {
		if rec.ID == "" {
			return fmt.Errorf("record ID is required")
		}
		if len(rec.Embedding) == 0 {
			return fmt.Errorf("record %s has no embedding", rec.ID)
		}
		if len(rec.Embedding) != dim {
			return fmt.Errorf("%w: batch mixes %d and %d",
				domain.ErrVectorDimMismatch, dim, len(rec.Embedding))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Pin inside the transaction so a rejected batch never records a
	// dimension without its chunks.
	if err := checkDimension(ctx, tx, dim); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (id, content, metadata, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", rec.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.Content, string(meta), EncodeVector(rec.Embedding)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Nearest scans all stored embeddings and returns the top-k records by
// descending cosine similarity. An empty store yields an empty result.
func (s *SQLite) Nearest(ctx context.Context, vector []float32, k int) ([]Result, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, content, metadata, embedding FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	defer rows.Close()

	var results []Result

	for rows.Next() {
		var (
			rec      Record
			metaJSON string
			blob     []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Content, &metaJSON, &blob); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		rec.Embedding, err = DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", rec.ID, err)
		}
		if len(rec.Embedding) != len(vector) {
			return nil, fmt.Errorf("%w: stored %d, query %d",
				domain.ErrVectorDimMismatch, len(rec.Embedding), len(vector))
		}
		if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
			rec.Metadata = domain.ChunkMetadata{}
		}

		score, err := CosineSimilarity(vector, rec.Embedding)
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", rec.ID, err)
		}

		results = append(results, Result{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of stored chunks.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Get retrieves a KV value. Returns ErrKeyNotFound for missing keys.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Set stores a KV value.
func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Ping checks that the store file is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// checkDimension pins the embedding dimension on first write and rejects
// mismatching vectors afterwards. Runs inside the write transaction so the
// pin commits (or rolls back) together with the chunks.
func checkDimension(ctx context.Context, tx *sql.Tx, dim int) error {
	var raw []byte
	err := tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, dimensionKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`,
			dimensionKey, []byte(strconv.Itoa(dim))); err != nil {
			return fmt.Errorf("set key %s: %w", dimensionKey, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("get key %s: %w", dimensionKey, err)
	}

	stored, err := strconv.Atoi(string(raw))
	if err != nil {
		return fmt.Errorf("corrupt dimension marker %q: %w", raw, err)
	}
	if stored != dim {
		return fmt.Errorf("%w: store has %d, got %d", domain.ErrVectorDimMismatch, stored, dim)
	}
	return nil
}
