package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/reposearch/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrNestedTx is returned by BeginTx on a transaction
	ErrNestedTx = errors.New("nested transactions are not supported")
)

// deleteBatchSize bounds the number of placeholders per DELETE statement
const deleteBatchSize = 500

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries implements every data operation against a querier, so the same
// code serves the database handle and a transaction
type queries struct {
	q querier
}

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	*queries
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	*queries
	tx *sql.Tx
}

var _ Tx = (*sqliteTx)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and
	// serializes writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens dbPath (":memory:" for an ephemeral store) and
// applies pending migrations
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{queries: &queries{q: db}, db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction. The store has a single connection, so
// the database handle must not be used until the transaction ends.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{queries: &queries{q: tx}, tx: tx}, nil
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// Close rolls back an uncommitted transaction
func (t *sqliteTx) Close() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, ErrNestedTx
}

// Chunk operations

func (s *queries) UpsertChunks(ctx context.Context, chunks []types.CodeChunk) error {
	query := `
		INSERT INTO chunks (id, file_path, start_line, end_line, chunk_type, name, content, content_hash, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_path = excluded.file_path,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			chunk_type = excluded.chunk_type,
			name = excluded.name,
			content = excluded.content,
			content_hash = excluded.content_hash,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	for i := range chunks {
		c := &chunks[i]
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", c.ID, err)
		}
		_, err = s.q.ExecContext(ctx, query,
			c.ID, c.FilePath, c.StartLine, c.EndLine, string(c.Type), c.Metadata.Name,
			c.Content, c.ContentHash(), string(meta), now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

const chunkColumns = `id, file_path, start_line, end_line, chunk_type, content, metadata`

func scanChunk(scan func(dest ...interface{}) error) (types.CodeChunk, error) {
	var (
		c     types.CodeChunk
		ctype string
		meta  string
	)
	if err := scan(&c.ID, &c.FilePath, &c.StartLine, &c.EndLine, &ctype, &c.Content, &meta); err != nil {
		return c, err
	}
	c.Type = types.ChunkType(ctype)
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return c, fmt.Errorf("failed to decode metadata for %s: %w", c.ID, err)
	}
	if c.Metadata.Dependencies == nil {
		c.Metadata.Dependencies = []string{}
	}
	return c, nil
}

func (s *queries) listChunks(ctx context.Context, query string, args ...interface{}) ([]types.CodeChunk, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]types.CodeChunk, 0)
	for rows.Next() {
		c, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *queries) GetChunk(ctx context.Context, id string) (*types.CodeChunk, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+chunkColumns+" FROM chunks WHERE id = ?", id)
	c, err := scanChunk(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChunks returns every chunk ordered by file and position
func (s *queries) ListChunks(ctx context.Context) ([]types.CodeChunk, error) {
	return s.listChunks(ctx, "SELECT "+chunkColumns+" FROM chunks ORDER BY file_path, start_line, id")
}

func (s *queries) ListChunksByFile(ctx context.Context, filePath string) ([]types.CodeChunk, error) {
	return s.listChunks(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE file_path = ? ORDER BY start_line, id", filePath)
}

// DeleteChunks removes chunks (and by cascade their embeddings) in batches
func (s *queries) DeleteChunks(ctx context.Context, ids []string) (int, error) {
	return s.deleteIn(ctx, "DELETE FROM chunks WHERE id IN (%s)", ids)
}

func (s *queries) deleteIn(ctx context.Context, stmt string, ids []string) (int, error) {
	total := 0
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(ids))
		batch := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		result, err := s.q.ExecContext(ctx, fmt.Sprintf(stmt, placeholders), args...)
		if err != nil {
			return total, fmt.Errorf("failed to delete batch: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}

// Embedding operations

func (s *queries) UpsertEmbeddings(ctx context.Context, embeddings []Embedding) error {
	query := `
		INSERT INTO embeddings (chunk_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model,
			created_at = excluded.created_at
	`
	now := time.Now()
	for _, e := range embeddings {
		_, err := s.q.ExecContext(ctx, query,
			e.ChunkID, serializeVector(e.Vector), len(e.Vector), e.Provider, e.Model, now)
		if err != nil {
			return fmt.Errorf("failed to upsert embedding %s: %w", e.ChunkID, err)
		}
	}
	return nil
}

func scanEmbedding(scan func(dest ...interface{}) error) (Embedding, error) {
	var (
		e    Embedding
		blob []byte
	)
	if err := scan(&e.ChunkID, &blob, &e.Dimension, &e.Provider, &e.Model, &e.CreatedAt); err != nil {
		return e, err
	}
	e.Vector = deserializeVector(blob)
	return e, nil
}

func (s *queries) GetEmbedding(ctx context.Context, chunkID string) (*Embedding, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT chunk_id, vector, dimension, provider, model, created_at
		FROM embeddings WHERE chunk_id = ?
	`, chunkID)
	e, err := scanEmbedding(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEmbeddings returns embeddings in the same order as ListChunks
func (s *queries) ListEmbeddings(ctx context.Context) ([]Embedding, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT e.chunk_id, e.vector, e.dimension, e.provider, e.model, e.created_at
		FROM embeddings e
		INNER JOIN chunks c ON c.id = e.chunk_id
		ORDER BY c.file_path, c.start_line, c.id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]Embedding, 0)
	for rows.Next() {
		e, err := scanEmbedding(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Vector table operations

func (s *queries) AppendVectors(ctx context.Context, firstRow int64, vectors [][]float32) error {
	for i, v := range vectors {
		_, err := s.q.ExecContext(ctx, "INSERT INTO vectors (row_num, vector) VALUES (?, ?)",
			firstRow+int64(i), serializeVector(v))
		if err != nil {
			return fmt.Errorf("failed to append vector %d: %w", firstRow+int64(i), err)
		}
	}
	return nil
}

func (s *queries) SearchVectors(ctx context.Context, query []float32, limit int) ([]VectorResult, error) {
	if limit <= 0 {
		return []VectorResult{}, nil
	}
	return searchVectors(ctx, s.q, query, limit)
}

func (s *queries) CountVectors(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors").Scan(&n)
	return n, err
}

func (s *queries) ClearVectors(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, "DELETE FROM vectors")
	return err
}

// Status operations

func (s *queries) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{BuildMode: BuildMode}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(DISTINCT file_path) FROM chunks", &status.FilesCount},
		{"SELECT COUNT(*) FROM chunks", &status.ChunksCount},
		{"SELECT COUNT(*) FROM embeddings", &status.EmbeddingsCount},
		{"SELECT COUNT(*) FROM vectors", &status.VectorsCount},
		{"SELECT COUNT(*) FROM graph_nodes", &status.NodesCount},
		{"SELECT COUNT(*) FROM graph_edges", &status.EdgesCount},
	}
	for _, c := range counts {
		if err := s.q.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	version, err := SchemaVersion(ctx, s.q)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version

	var pageCount, pageSize int
	if err := s.q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return status, nil
}

// SetMeta stores value under key, replacing any previous value
func (s *queries) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO index_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

// GetMeta returns the value stored under key, or ErrNotFound
func (s *queries) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.q.QueryRowContext(ctx, "SELECT value FROM index_meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta %s: %w", key, err)
	}
	return value, nil
}

// Clear empties every data table. Schema and migrations are kept.
func (s *queries) Clear(ctx context.Context) error {
	for _, table := range []string{"graph_edges", "graph_nodes", "vectors", "embeddings", "chunks", "index_meta"} {
		if _, err := s.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
