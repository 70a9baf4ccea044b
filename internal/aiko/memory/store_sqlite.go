package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements VectorStore using SQLite with embeddings stored as
// JSON-encoded float32 arrays and brute-force cosine similarity computed in
// Go. Suitable for hundreds to low-thousands of memories; modernc.org/sqlite
// carries no custom C functions, and at this scale loading every embedding
// per query is fast.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	embedding  BLOB NOT NULL,
	content    TEXT NOT NULL,
	metadata   TEXT
);`

// OpenSQLiteStore opens (creating if needed) a SQLite-backed store at path.
// Use ":memory:" for a volatile store. If logger is nil the default slog
// logger is used.
func OpenSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent (each pooled
	// connection would otherwise get its own empty database) and serializes
	// writes, which SQLite requires anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: create schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Add persists one record, replacing any previous record with the same ID.
func (s *SQLiteStore) Add(ctx context.Context, id string, vec []float32, content string, metadata map[string]string) error {
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal embedding: %w", err)
	}

	var metaJSON []byte
	if len(metadata) > 0 {
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("sqlite store: marshal metadata: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO memories (id, embedding, content, metadata)
		VALUES (?, ?, ?, ?)`,
		id, vecJSON, content, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: insert %s: %w", id, err)
	}

	s.logger.Debug("sqlite store: added", "id", id, "content_len", len(content))
	return nil
}

// Query loads every stored embedding, scores it against vec with cosine
// similarity, and returns the k closest records as hits with cosine distance.
func (s *SQLiteStore) Query(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if k <= 0 || len(vec) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding, content, metadata FROM memories`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query rows: %w", err)
	}
	defer rows.Close()

	var candidates []scoredHit
	for rows.Next() {
		var (
			id       string
			vecJSON  []byte
			content  string
			metaJSON sql.NullString
		)
		if err := rows.Scan(&id, &vecJSON, &content, &metaJSON); err != nil {
			return nil, fmt.Errorf("sqlite store: scan row: %w", err)
		}

		var stored []float32
		if err := json.Unmarshal(vecJSON, &stored); err != nil {
			s.logger.Warn("sqlite store: skip malformed embedding", "id", id, "err", err)
			continue
		}

		var metadata map[string]string
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &metadata); err != nil {
				s.logger.Warn("sqlite store: skip malformed metadata", "id", id, "err", err)
				continue
			}
		}

		sim := cosineSimilarity(vec, stored)
		candidates = append(candidates, scoredHit{
			hit:   Hit{ID: id, Content: content, Metadata: metadata, Distance: 1 - sim},
			score: sim,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: iterate rows: %w", err)
	}

	sortByScore(candidates)
	if k > len(candidates) {
		k = len(candidates)
	}

	hits := make([]Hit, k)
	for i := range k {
		hits[i] = candidates[i].hit
	}
	return hits, nil
}

// Count returns the number of stored records. Query errors are logged and
// reported as zero.
func (s *SQLiteStore) Count() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		s.logger.Warn("sqlite store: count failed", "err", err)
		return 0
	}
	return n
}

// DeleteAll removes every record.
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories`); err != nil {
		return fmt.Errorf("sqlite store: delete all: %w", err)
	}
	return nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched lengths or zero-magnitude vectors.
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

type scoredHit struct {
	hit   Hit
	score float64
}

// sortByScore orders candidates by descending similarity. Insertion sort is
// fine for the small N expected per query.
func sortByScore(items []scoredHit) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && items[j].score < key.score {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}

var _ VectorStore = (*SQLiteStore)(nil)
