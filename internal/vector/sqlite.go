package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"

	_ "modernc.org/sqlite"
)

// Embedder turns text into a fixed-dimension vector. The SQLite index is
// embedding-function-agnostic; production deployments pass a real model
// client, tests and the edge use the deterministic hash embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SQLite is an embedded Index for single-host deployments and tests:
// documents, metadata and embeddings live in one database file and queries
// are brute-force cosine over the stored vectors.
type SQLite struct {
	db       *sql.DB
	embedder Embedder
	logger   *slog.Logger
}

// SQLiteOption configures a SQLite index.
type SQLiteOption func(*SQLite)

// WithSQLiteLogger sets the logger.
func WithSQLiteLogger(l *slog.Logger) SQLiteOption {
	return func(s *SQLite) { s.logger = l }
}

// NewSQLite opens (creating if needed) an index at path. Use ":memory:" for
// an ephemeral index.
func NewSQLite(path string, embedder Embedder, opts ...SQLiteOption) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite index: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		id        TEXT PRIMARY KEY,
		document  TEXT NOT NULL,
		metadata  TEXT NOT NULL,
		embedding TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}

	s := &SQLite{db: db, embedder: embedder, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// Upsert embeds and stores documents, replacing any existing rows by id.
func (s *SQLite) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, document, metadata, embedding)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			metadata = excluded.metadata,
			embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		emb, err := s.embedder.Embed(ctx, d.Text)
		if err != nil {
			return fmt.Errorf("embed %s: %w", d.ID, err)
		}
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata %s: %w", d.ID, err)
		}
		embJSON, err := json.Marshal(emb)
		if err != nil {
			return fmt.Errorf("marshal embedding %s: %w", d.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, d.ID, d.Text, string(meta), string(embJSON)); err != nil {
			return fmt.Errorf("upsert %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// Query embeds the query text and scans all rows, filtering by the where
// expression and ranking by cosine distance.
func (s *SQLite) Query(ctx context.Context, text string, k int, where Where) ([]Result, error) {
	queryEmb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, document, metadata, embedding FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var id, doc, metaJSON, embJSON string
		if err := rows.Scan(&id, &doc, &metaJSON, &embJSON); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		var meta map[string]any
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			s.logger.Warn("vector.bad_metadata", "id", id, "error", err)
			continue
		}
		if !matchWhere(meta, where) {
			continue
		}

		var emb []float32
		if err := json.Unmarshal([]byte(embJSON), &emb); err != nil {
			s.logger.Warn("vector.bad_embedding", "id", id, "error", err)
			continue
		}

		results = append(results, Result{
			ID:       id,
			Document: doc,
			Metadata: meta,
			Distance: 1 - cosineSimilarity(queryEmb, emb),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of stored documents.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// IDs returns all document ids.
func (s *SQLite) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// matchWhere evaluates the operator form used by the store contract:
// direct equality, {"$gte"|"$lte"|"$lt": v} per field, and {"$and": [...]}.
func matchWhere(meta map[string]any, where Where) bool {
	if len(where) == 0 {
		return true
	}
	for field, cond := range where {
		if field == "$and" {
			clauses, ok := cond.([]any)
			if !ok {
				return false
			}
			for _, raw := range clauses {
				clause, ok := raw.(map[string]any)
				if !ok || !matchWhere(meta, Where(clause)) {
					return false
				}
			}
			continue
		}

		value, present := meta[field]
		ops, isOps := cond.(map[string]any)
		if !isOps {
			if !present || fmt.Sprint(value) != fmt.Sprint(cond) {
				return false
			}
			continue
		}
		if !present {
			return false
		}
		got, ok := toFloat(value)
		if !ok {
			return false
		}
		for op, bound := range ops {
			want, ok := toFloat(bound)
			if !ok {
				return false
			}
			switch op {
			case "$gte":
				if got < want {
					return false
				}
			case "$lte":
				if got > want {
					return false
				}
			case "$lt":
				if got >= want {
					return false
				}
			default:
				return false
			}
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
