package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// MetadataStore is the durable source of truth: sources, chunks, graph
// edges, embeddings, and engine state all live here. The vector and
// lexical indexes are derived data and are reconciled against this
// store at read time, so a crash between a metadata commit and an index
// update never surfaces phantom chunks.
type MetadataStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

const schemaVersion = 1

// validateIntegrity checks a database file before opening it for real.
// Returns nil if the file is absent (it will be created).
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
	                   WHERE type='table' AND name='chunks'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	return nil
}

// NewMetadataStore opens (or creates) the metadata database.
// An empty path creates an in-memory store for testing.
func NewMetadataStore(path string) (*MetadataStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateIntegrity(path); validErr != nil {
			return nil, fmt.Errorf("metadata store corrupted at %s: %w", path, validErr)
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite; DSN
	// parameters may be ignored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &MetadataStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *MetadataStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS sources (
		source_id    TEXT PRIMARY KEY,
		version      TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		size_bytes   INTEGER NOT NULL DEFAULT 0,
		filename     TEXT NOT NULL DEFAULT '',
		format       TEXT NOT NULL DEFAULT 'unknown',
		doc_type     TEXT NOT NULL DEFAULT 'unknown',
		status       TEXT NOT NULL DEFAULT 'pending',
		error        TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id    TEXT PRIMARY KEY,
		source_id   TEXT NOT NULL REFERENCES sources(source_id) ON DELETE CASCADE,
		version     TEXT NOT NULL,
		scale       TEXT NOT NULL,
		content     TEXT NOT NULL,
		heading     TEXT NOT NULL DEFAULT '',
		section_path TEXT NOT NULL DEFAULT '[]',
		page_number INTEGER NOT NULL DEFAULT 0,

		token_count     INTEGER NOT NULL DEFAULT 0,
		word_count      INTEGER NOT NULL DEFAULT 0,
		character_count INTEGER NOT NULL DEFAULT 0,

		content_type            TEXT NOT NULL DEFAULT 'text',
		content_type_confidence REAL NOT NULL DEFAULT 0,
		quality_score           REAL NOT NULL DEFAULT 0,
		instructional_value     REAL NOT NULL DEFAULT 0,
		language                TEXT NOT NULL DEFAULT '',

		parent_id      TEXT NOT NULL DEFAULT '',
		child_ids      TEXT NOT NULL DEFAULT '[]',
		sibling_ids    TEXT NOT NULL DEFAULT '[]',
		hierarchy_path TEXT NOT NULL DEFAULT '[]',

		emb_content      BLOB,
		emb_contextual   BLOB,
		emb_hierarchical BLOB,
		emb_semantic     BLOB,

		duplicate  INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_parent ON chunks(parent_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_scale  ON chunks(scale);

	CREATE TABLE IF NOT EXISTS kv_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// PutSource inserts or updates a source record.
func (s *MetadataStore) PutSource(ctx context.Context, src *Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	now := time.Now()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	src.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (source_id, version, content_hash, size_bytes, filename,
		                     format, doc_type, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			version = excluded.version,
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			filename = excluded.filename,
			format = excluded.format,
			doc_type = excluded.doc_type,
			status = excluded.status,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		src.ID, src.Version, src.ContentHash, src.SizeBytes, src.Filename,
		string(src.Format), string(src.Type), string(src.Status), src.Error,
		src.CreatedAt.UnixMilli(), src.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("put source %s: %w", src.ID, err)
	}
	return nil
}

// UpdateSourceStatus transitions a source's status, recording the error
// message for failed transitions.
func (s *MetadataStore) UpdateSourceStatus(ctx context.Context, sourceID string, status Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET status = ?, error = ?, updated_at = ? WHERE source_id = ?`,
		string(status), errMsg, time.Now().UnixMilli(), sourceID)
	if err != nil {
		return fmt.Errorf("update source status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source not found: %s", sourceID)
	}
	return nil
}

// GetSource returns one source, or (nil, nil) if absent.
func (s *MetadataStore) GetSource(ctx context.Context, sourceID string) (*Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT source_id, version, content_hash, size_bytes, filename,
		       format, doc_type, status, error, created_at, updated_at
		FROM sources WHERE source_id = ?`, sourceID)

	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get source %s: %w", sourceID, err)
	}
	return src, nil
}

// ListSources returns sources matching the filter, newest first.
func (s *MetadataStore) ListSources(ctx context.Context, filter SourceFilter) ([]*Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	query := `SELECT source_id, version, content_hash, size_bytes, filename,
	                 format, doc_type, status, error, created_at, updated_at
	          FROM sources`
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		conds = append(conds, "doc_type = ?")
		args = append(args, string(filter.Type))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// DeleteSource removes a source and all its chunks in one transaction,
// returning the IDs of the deleted chunks so derived indexes can be
// purged. Deleting an absent source is a no-op.
func (s *MetadataStore) DeleteSource(ctx context.Context, sourceID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	removed, err := chunkIDsForSource(ctx, tx, sourceID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ?`, sourceID); err != nil {
		return nil, fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE source_id = ?`, sourceID); err != nil {
		return nil, fmt.Errorf("delete source: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}

	slog.Debug("source_deleted",
		slog.String("source_id", sourceID),
		slog.Int("chunks_removed", len(removed)))
	return removed, nil
}

// ReplaceChunks atomically replaces a source's chunk set with the given
// forest. Chunks whose IDs already exist are kept in place (re-ingesting
// unchanged content touches zero rows); new IDs are inserted; prior IDs
// absent from the new set are deleted. The removed IDs are returned so
// derived indexes can drop them.
func (s *MetadataStore) ReplaceChunks(ctx context.Context, sourceID string, chunks []*ChunkNode) (ReplaceStats, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats ReplaceStats
	if s.closed {
		return stats, nil, fmt.Errorf("store is closed")
	}

	if err := ValidateGraph(chunks); err != nil {
		return stats, nil, fmt.Errorf("invalid chunk graph for %s: %w", sourceID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, nil, fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := chunkIDsForSource(ctx, tx, sourceID)
	if err != nil {
		return stats, nil, err
	}
	existingSet := make(map[string]bool, len(existing))
	for _, id := range existing {
		existingSet[id] = true
	}

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (
			chunk_id, source_id, version, scale, content, heading, section_path, page_number,
			token_count, word_count, character_count,
			content_type, content_type_confidence, quality_score, instructional_value, language,
			parent_id, child_ids, sibling_ids, hierarchy_path,
			emb_content, emb_contextual, emb_hierarchical, emb_semantic,
			duplicate, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return stats, nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer insertStmt.Close()

	// Kept rows share content with the incoming chunk but their graph
	// position may have moved: a changed sibling shifts the root ID,
	// edges, and version. Rewrite those columns so kept chunks always
	// belong to the incoming forest; content, vectors, and created_at
	// stay untouched.
	updateStmt, err := tx.PrepareContext(ctx, `
		UPDATE chunks SET version = ?, page_number = ?,
			parent_id = ?, child_ids = ?, sibling_ids = ?, hierarchy_path = ?
		WHERE chunk_id = ?`)
	if err != nil {
		return stats, nil, fmt.Errorf("prepare update: %w", err)
	}
	defer updateStmt.Close()

	now := time.Now()
	newSet := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		newSet[c.ID] = true
		if existingSet[c.ID] {
			if err := execUpdateChunkEdges(ctx, updateStmt, c); err != nil {
				return stats, nil, err
			}
			stats.Kept++
			continue
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if err := execInsertChunk(ctx, insertStmt, c); err != nil {
			return stats, nil, err
		}
		stats.Inserted++
	}

	var removed []string
	for _, id := range existing {
		if !newSet[id] {
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM chunks WHERE chunk_id = ?`)
		if err != nil {
			return stats, nil, fmt.Errorf("prepare delete: %w", err)
		}
		defer deleteStmt.Close()
		for _, id := range removed {
			if _, err := deleteStmt.ExecContext(ctx, id); err != nil {
				return stats, nil, fmt.Errorf("delete chunk %s: %w", id, err)
			}
		}
	}
	stats.Removed = len(removed)

	if err := tx.Commit(); err != nil {
		return ReplaceStats{}, nil, fmt.Errorf("commit replace: %w", err)
	}

	slog.Debug("chunks_replaced",
		slog.String("source_id", sourceID),
		slog.Int("inserted", stats.Inserted),
		slog.Int("kept", stats.Kept),
		slog.Int("removed", stats.Removed))
	return stats, removed, nil
}

func execInsertChunk(ctx context.Context, stmt *sql.Stmt, c *ChunkNode) error {
	sectionPath, err := json.Marshal(emptyIfNil(c.SectionPath))
	if err != nil {
		return fmt.Errorf("marshal section path: %w", err)
	}
	childIDs, _ := json.Marshal(emptyIfNil(c.ChildIDs))
	siblingIDs, _ := json.Marshal(emptyIfNil(c.SiblingIDs))
	hierarchyPath, _ := json.Marshal(emptyIfNil(c.HierarchyPath))

	_, err = stmt.ExecContext(ctx,
		c.ID, c.SourceID, c.Version, string(c.Scale), c.Content, c.Heading,
		string(sectionPath), c.PageNumber,
		c.TokenCount, c.WordCount, c.CharacterCount,
		string(c.ContentType), c.ContentTypeConfidence, c.QualityScore,
		c.InstructionalValue, c.Language,
		c.ParentID, string(childIDs), string(siblingIDs), string(hierarchyPath),
		encodeVector(c.Embeddings[KindContent]),
		encodeVector(c.Embeddings[KindContextual]),
		encodeVector(c.Embeddings[KindHierarchical]),
		encodeVector(c.Embeddings[KindSemantic]),
		boolToInt(c.Duplicate), c.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert chunk %s: %w", c.ID, err)
	}
	return nil
}

func execUpdateChunkEdges(ctx context.Context, stmt *sql.Stmt, c *ChunkNode) error {
	childIDs, _ := json.Marshal(emptyIfNil(c.ChildIDs))
	siblingIDs, _ := json.Marshal(emptyIfNil(c.SiblingIDs))
	hierarchyPath, _ := json.Marshal(emptyIfNil(c.HierarchyPath))

	_, err := stmt.ExecContext(ctx,
		c.Version, c.PageNumber,
		c.ParentID, string(childIDs), string(siblingIDs), string(hierarchyPath),
		c.ID)
	if err != nil {
		return fmt.Errorf("update chunk %s: %w", c.ID, err)
	}
	return nil
}

// GetChunk returns one chunk, or (nil, nil) if absent.
func (s *MetadataStore) GetChunk(ctx context.Context, chunkID string) (*ChunkNode, error) {
	chunks, err := s.GetChunks(ctx, []string{chunkID})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	return chunks[0], nil
}

// GetChunks returns the chunks for the given IDs, in the given order.
// Missing IDs are silently skipped; this is what lets readers treat the
// metadata store as the source of truth when a derived index holds
// stale entries.
func (s *MetadataStore) GetChunks(ctx context.Context, chunkIDs []string) ([]*ChunkNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunkIDs)), ",")
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		chunkSelect+` WHERE chunk_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*ChunkNode, len(chunkIDs))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*ChunkNode, 0, len(byID))
	for _, id := range chunkIDs {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListChunksBySource returns all chunks of a source ordered by scale
// then creation order.
func (s *MetadataStore) ListChunksBySource(ctx context.Context, sourceID string) ([]*ChunkNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		chunkSelect+` WHERE source_id = ? ORDER BY rowid`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []*ChunkNode
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChildren returns a chunk's children in reading order.
func (s *MetadataStore) GetChildren(ctx context.Context, chunkID string) ([]*ChunkNode, error) {
	c, err := s.GetChunk(ctx, chunkID)
	if err != nil || c == nil {
		return nil, err
	}
	return s.GetChunks(ctx, c.ChildIDs)
}

// GetParent returns a chunk's parent, or (nil, nil) for a root.
func (s *MetadataStore) GetParent(ctx context.Context, chunkID string) (*ChunkNode, error) {
	c, err := s.GetChunk(ctx, chunkID)
	if err != nil || c == nil {
		return nil, err
	}
	if c.ParentID == "" {
		return nil, nil
	}
	return s.GetChunk(ctx, c.ParentID)
}

// GetSiblings returns a chunk's siblings in reading order, excluding
// the chunk itself.
func (s *MetadataStore) GetSiblings(ctx context.Context, chunkID string) ([]*ChunkNode, error) {
	c, err := s.GetChunk(ctx, chunkID)
	if err != nil || c == nil {
		return nil, err
	}
	return s.GetChunks(ctx, c.SiblingIDs)
}

// CountChunks returns the total chunk count, optionally per source.
func (s *MetadataStore) CountChunks(ctx context.Context, sourceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	var n int
	var err error
	if sourceID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM chunks WHERE source_id = ?`, sourceID).Scan(&n)
	}
	return n, err
}

// GetState reads a kv_state value; empty string if absent.
func (s *MetadataStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetState writes a kv_state value.
func (s *MetadataStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv_state (key, value) VALUES (?, ?)`, key, value)
	return err
}

// Close closes the database.
func (s *MetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

const chunkSelect = `
	SELECT chunk_id, source_id, version, scale, content, heading, section_path, page_number,
	       token_count, word_count, character_count,
	       content_type, content_type_confidence, quality_score, instructional_value, language,
	       parent_id, child_ids, sibling_ids, hierarchy_path,
	       emb_content, emb_contextual, emb_hierarchical, emb_semantic,
	       duplicate, created_at
	FROM chunks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*Source, error) {
	var src Source
	var format, docType, status string
	var createdAt, updatedAt int64
	err := row.Scan(&src.ID, &src.Version, &src.ContentHash, &src.SizeBytes,
		&src.Filename, &format, &docType, &status, &src.Error,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	src.Format = DocFormat(format)
	src.Type = DocType(docType)
	src.Status = Status(status)
	src.CreatedAt = time.UnixMilli(createdAt)
	src.UpdatedAt = time.UnixMilli(updatedAt)
	return &src, nil
}

func scanChunk(row rowScanner) (*ChunkNode, error) {
	var c ChunkNode
	var scale, contentType string
	var sectionPath, childIDs, siblingIDs, hierarchyPath string
	var embContent, embContextual, embHierarchical, embSemantic []byte
	var duplicate int
	var createdAt int64

	err := row.Scan(&c.ID, &c.SourceID, &c.Version, &scale, &c.Content, &c.Heading,
		&sectionPath, &c.PageNumber,
		&c.TokenCount, &c.WordCount, &c.CharacterCount,
		&contentType, &c.ContentTypeConfidence, &c.QualityScore,
		&c.InstructionalValue, &c.Language,
		&c.ParentID, &childIDs, &siblingIDs, &hierarchyPath,
		&embContent, &embContextual, &embHierarchical, &embSemantic,
		&duplicate, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan chunk: %w", err)
	}

	c.Scale = Scale(scale)
	c.ContentType = ContentType(contentType)
	c.Duplicate = duplicate != 0
	c.CreatedAt = time.UnixMilli(createdAt)

	if err := json.Unmarshal([]byte(sectionPath), &c.SectionPath); err != nil {
		return nil, fmt.Errorf("decode section path for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(childIDs), &c.ChildIDs); err != nil {
		return nil, fmt.Errorf("decode child ids for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(siblingIDs), &c.SiblingIDs); err != nil {
		return nil, fmt.Errorf("decode sibling ids for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(hierarchyPath), &c.HierarchyPath); err != nil {
		return nil, fmt.Errorf("decode hierarchy path for %s: %w", c.ID, err)
	}

	c.Embeddings = make(map[EmbeddingKind][]float32)
	for kind, blob := range map[EmbeddingKind][]byte{
		KindContent:      embContent,
		KindContextual:   embContextual,
		KindHierarchical: embHierarchical,
		KindSemantic:     embSemantic,
	} {
		if vec := decodeVector(blob); vec != nil {
			c.Embeddings[kind] = vec
		}
	}
	return &c, nil
}

func chunkIDsForSource(ctx context.Context, tx *sql.Tx, sourceID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT chunk_id FROM chunks WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query chunk ids: %w", err)
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

// encodeVector packs a float32 vector as little-endian bytes.
// Nil in, nil out.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks little-endian bytes into a float32 vector.
func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
