package rag

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// KeywordIndex serves the keyword side of VectorStore with a SQLite FTS5
// table. It ranks matches with BM25 and normalizes the rank into the shared
// [0, 1] similarity scale.
type KeywordIndex struct {
	// db is the underlying database connection pool.
	db *sql.DB

	// log is the structured logger for index events.
	log *slog.Logger
}

// tokenPattern extracts searchable tokens from raw query text, including
// accented Spanish letters.
var tokenPattern = regexp.MustCompile(`[\pL\pN]+`)

// OpenKeywordIndex opens (or creates) a KeywordIndex at the given path and
// runs the schema migration. Use ":memory:" for an in-memory index in tests.
func OpenKeywordIndex(path string, log *slog.Logger) (*KeywordIndex, error) {
	if log == nil {
		log = slog.Default()
	}

	dsn := path
	if path != ":memory:" {
		// WAL mode improves concurrent read performance and is safe for single-host use.
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("keyword: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	k := &KeywordIndex{db: db, log: log}
	if err := k.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return k, nil
}

// migrate creates the FTS5 schema if it does not already exist.
func (k *KeywordIndex) migrate() error {
	const ddl = `
CREATE VIRTUAL TABLE IF NOT EXISTS fragments USING fts5(
    text,
    record_id    UNINDEXED,
    origin       UNINDEXED,
    chunk_index  UNINDEXED,
    total_chunks UNINDEXED,
    indexed_at   UNINDEXED
);`
	if _, err := k.db.Exec(ddl); err != nil {
		return fmt.Errorf("keyword: migrate: %w", err)
	}
	return nil
}

// Add upserts a batch of records. Embeddings are accepted for interface
// parity but not stored — the keyword index is purely lexical.
func (k *KeywordIndex) Add(ctx context.Context, records []Record, embeddings [][]float32) error {
	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("keyword: begin tx: %w", err)
	}
	defer tx.Rollback()

	// FTS5 tables have no primary key; idempotent upsert is delete + insert.
	del, err := tx.PrepareContext(ctx, `DELETE FROM fragments WHERE record_id = ?`)
	if err != nil {
		return fmt.Errorf("keyword: prepare delete: %w", err)
	}
	defer del.Close()

	ins, err := tx.PrepareContext(ctx, `
INSERT INTO fragments (text, record_id, origin, chunk_index, total_chunks, indexed_at)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("keyword: prepare insert: %w", err)
	}
	defer ins.Close()

	for _, rec := range records {
		if _, err := del.ExecContext(ctx, rec.ID); err != nil {
			return fmt.Errorf("keyword: delete %s: %w", rec.ID, err)
		}
		_, err := ins.ExecContext(ctx, rec.Text, rec.ID, rec.Origin,
			rec.ChunkIndex, rec.TotalChunks, rec.IndexedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("keyword: insert %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("keyword: commit: %w", err)
	}
	return nil
}

// QueryKeyword returns up to k records ranked by BM25 against the query
// text. The raw text is reduced to an OR-of-tokens MATCH expression so user
// punctuation can never produce FTS5 syntax errors.
func (k *KeywordIndex) QueryKeyword(ctx context.Context, text string, limit int, filter *Filter) ([]Scored, error) {
	match := matchExpression(text)
	if match == "" {
		return nil, nil
	}

	query := `
SELECT record_id, text, origin, chunk_index, total_chunks, indexed_at, bm25(fragments) AS rank
FROM   fragments
WHERE  fragments MATCH ?`
	args := []any{match}

	if filter != nil && len(filter.Origins) > 0 {
		query += ` AND origin IN (?` + strings.Repeat(",?", len(filter.Origins)-1) + `)`
		for _, o := range filter.Origins {
			args = append(args, o)
		}
	}

	query += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := k.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword: query: %w", err)
	}
	defer rows.Close()

	var results []Scored
	for rows.Next() {
		var (
			rec       Record
			indexedAt string
			rank      float64
		)
		if err := rows.Scan(&rec.ID, &rec.Text, &rec.Origin, &rec.ChunkIndex,
			&rec.TotalChunks, &indexedAt, &rank); err != nil {
			return nil, fmt.Errorf("keyword: scan: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, indexedAt); err == nil {
			rec.IndexedAt = ts
		}
		results = append(results, Scored{Record: rec, Similarity: bm25Similarity(rank)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keyword: rows: %w", err)
	}
	return results, nil
}

// QuerySemantic is not served by the keyword backend.
func (k *KeywordIndex) QuerySemantic(ctx context.Context, embedding []float32, limit int, filter *Filter) ([]Scored, error) {
	return nil, fmt.Errorf("keyword: semantic queries are served by the vector backend, not the keyword index")
}

// Delete removes records by ID in bounded batches. A failed batch is logged
// and skipped; remaining batches still proceed.
func (k *KeywordIndex) Delete(ctx context.Context, ids []string) error {
	for i, batch := range batchIDs(ids) {
		query := `DELETE FROM fragments WHERE record_id IN (?` + strings.Repeat(",?", len(batch)-1) + `)`
		args := make([]any, len(batch))
		for j, id := range batch {
			args[j] = id
		}
		if _, err := k.db.ExecContext(ctx, query, args...); err != nil {
			k.log.Warn("keyword: delete batch failed, skipping",
				slog.Int("batch", i),
				slog.Int("batch_size", len(batch)),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// AllIDs enumerates every stored record ID.
func (k *KeywordIndex) AllIDs(ctx context.Context) ([]string, error) {
	rows, err := k.db.QueryContext(ctx, `SELECT record_id FROM fragments`)
	if err != nil {
		return nil, fmt.Errorf("keyword: all ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("keyword: all ids scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keyword: all ids rows: %w", err)
	}
	return ids, nil
}

// Close releases the database connection pool.
func (k *KeywordIndex) Close() error {
	if err := k.db.Close(); err != nil {
		return fmt.Errorf("keyword: close: %w", err)
	}
	return nil
}

// matchExpression converts free text into a safe FTS5 MATCH expression:
// each token is double-quoted and the tokens are OR-ed together.
func matchExpression(text string) string {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + tok + `"`
	}
	return strings.Join(quoted, " OR ")
}

// bm25Similarity folds an FTS5 BM25 rank (more negative = better match) into
// the shared [0, 1] similarity scale.
func bm25Similarity(rank float64) float64 {
	rel := -rank
	if rel <= 0 {
		return 0
	}
	return rel / (1 + rel)
}
