package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// FTSLexicalIndex implements LexicalIndex on SQLite FTS5. It is the
// alternative backend for deployments that want a single storage
// engine; searches hit the same analysis pipeline as the bleve
// backend, so the two rank comparably.
//
// Text is pre-analyzed (tokenized, stop words dropped, stemmed) before
// indexing, and queries go through the identical pipeline, so FTS5
// itself only needs the plain unicode61 tokenizer.
type FTSLexicalIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ LexicalIndex = (*FTSLexicalIndex)(nil)

// NewFTSLexicalIndex opens or creates an FTS5 lexical index.
// An empty path creates an in-memory index for testing.
func NewFTSLexicalIndex(path string) (*FTSLexicalIndex, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(
		chunk_id UNINDEXED,
		content,
		heading,
		tokenize='unicode61'
	);
	CREATE TABLE IF NOT EXISTS fts_ids (
		chunk_id TEXT PRIMARY KEY
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &FTSLexicalIndex{db: db, path: path}, nil
}

// Index adds documents; existing IDs are updated (delete + insert,
// FTS5 virtual tables do not support REPLACE).
func (f *FTSLexicalIndex) Index(ctx context.Context, docs []LexicalDoc) error {
	if len(docs) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_chunks WHERE chunk_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fts_chunks(chunk_id, content, heading) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer insertStmt.Close()

	idStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO fts_ids(chunk_id) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare id statement: %w", err)
	}
	defer idStmt.Close()

	for _, doc := range docs {
		if _, err := deleteStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", doc.ID, err)
		}
		content := strings.Join(AnalyzeProse(doc.Content), " ")
		heading := strings.Join(AnalyzeProse(doc.Heading), " ")
		if _, err := insertStmt.ExecContext(ctx, doc.ID, content, heading); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
		if _, err := idStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to record id %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Search returns documents matching the query, scored by FTS5 bm25()
// with heading matches weighted double.
func (f *FTSLexicalIndex) Search(ctx context.Context, queryStr string, limit int) ([]LexicalHit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, fmt.Errorf("index is closed")
	}

	terms := AnalyzeProse(queryStr)
	if len(terms) == 0 {
		return []LexicalHit{}, nil
	}

	// OR the terms so partial matches still rank.
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"`
	}
	ftsQuery := strings.Join(quoted, " OR ")

	rows, err := f.db.QueryContext(ctx, `
		SELECT chunk_id, content, bm25(fts_chunks, 0, 1.0, 2.0) AS rank
		FROM fts_chunks
		WHERE fts_chunks MATCH ?
		ORDER BY rank
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var id, content string
		var rank float64
		if err := rows.Scan(&id, &content, &rank); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, LexicalHit{
			ChunkID: id,
			// bm25() returns negative ranks, lower is better.
			Score:        -rank,
			MatchedTerms: matchedTerms(terms, content),
		})
	}
	return hits, rows.Err()
}

// matchedTerms reports which query terms appear in the analyzed content.
func matchedTerms(queryTerms []string, analyzedContent string) []string {
	docTerms := make(map[string]struct{})
	for _, t := range strings.Fields(analyzedContent) {
		docTerms[t] = struct{}{}
	}
	var matched []string
	for _, t := range queryTerms {
		if _, ok := docTerms[t]; ok {
			matched = append(matched, t)
		}
	}
	return matched
}

// Delete removes documents by ID.
func (f *FTSLexicalIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM fts_chunks WHERE chunk_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM fts_ids WHERE chunk_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete id %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (f *FTSLexicalIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	return f.db.Close()
}
