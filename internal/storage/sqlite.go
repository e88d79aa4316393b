package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

// SQLiteStore keeps one row per chunk, keyed by position, with the embedding
// as a BLOB. Each commit inserts the new rows in a single transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open(sqliteDriver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps the count check and the inserts of a commit on the same view.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	// Another process may be committing to the same database.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshot_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		position INTEGER PRIMARY KEY,
		text TEXT NOT NULL,
		metadata TEXT,
		file_id TEXT,
		embedding BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_file_id ON chunks(file_id);
	`
	_, err := db.Exec(schema)
	return err
}

// Backend returns "sqlite".
func (s *SQLiteStore) Backend() string { return BackendSQLite }

// Paths returns the database file and its WAL side files.
func (s *SQLiteStore) Paths() []string {
	return []string{s.path, s.path + "-wal", s.path + "-shm"}
}

// Load reads every chunk row in position order.
func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	dim, err := s.dimensions(ctx, s.db)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Dimensions: dim}

	rows, err := s.db.QueryContext(ctx,
		`SELECT position, text, metadata, embedding FROM chunks ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			position     int
			text         string
			metadataJSON sql.NullString
			blob         []byte
		)
		if err := rows.Scan(&position, &text, &metadataJSON, &blob); err != nil {
			return nil, err
		}
		if position != snap.Len() {
			return nil, fmt.Errorf("%w: expected position %d, found %d", ErrCorrupt, snap.Len(), position)
		}
		chunk := models.Chunk{Text: text, Metadata: map[string]any{}}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &chunk.Metadata); err != nil {
				return nil, fmt.Errorf("%w: failed to unmarshal metadata at %d: %v", ErrCorrupt, position, err)
			}
		}
		snap.Chunks = append(snap.Chunks, chunk)
		snap.Vectors = append(snap.Vectors, vector.DecodeVector(blob))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if snap.Len() > 0 && dim == 0 {
		return nil, fmt.Errorf("%w: chunks stored without dimensions", ErrCorrupt)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) dimensions(ctx context.Context, q queryer) (int, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM snapshot_meta WHERE key = 'dimensions'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read dimensions: %w", err)
	}
	dim, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: dimensions %q", ErrCorrupt, value)
	}
	return dim, nil
}

// Commit inserts entries [durable, snap.Len()) in one transaction. The stored
// row count must equal durable, otherwise ErrOutOfSync is returned and nothing is written.
func (s *SQLiteStore) Commit(ctx context.Context, snap *Snapshot, durable int) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if durable < 0 || durable > snap.Len() {
		return fmt.Errorf("%w: durable prefix %d of %d", ErrOutOfSync, durable, snap.Len())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count chunks: %w", err)
	}
	if count != durable {
		return fmt.Errorf("%w: database has %d chunks, commit expects %d", ErrOutOfSync, count, durable)
	}

	stored, err := s.dimensions(ctx, tx)
	if err != nil {
		return err
	}
	switch {
	case stored == 0:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_meta (key, value) VALUES ('dimensions', ?)`,
			strconv.Itoa(snap.Dimensions)); err != nil {
			return fmt.Errorf("failed to write dimensions: %w", err)
		}
	case stored != snap.Dimensions:
		return fmt.Errorf("%w: database has %d, commit has %d", vector.ErrDimensionMismatch, stored, snap.Dimensions)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (position, text, metadata, file_id, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i := durable; i < snap.Len(); i++ {
		chunk := snap.Chunks[i]
		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, i, chunk.Text, string(metadataJSON),
			chunk.MetaString(models.MetaFileID), vector.EncodeVector(snap.Vectors[i]), now); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
