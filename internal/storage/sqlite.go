package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/tanya/internal/models"
)

// SQLiteStorage implements FragmentRepository and AnswerRepository on SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var (
	_ FragmentRepository = (*SQLiteStorage)(nil)
	_ AnswerRepository   = (*SQLiteStorage)(nil)
)

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS fragments (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		source_id TEXT NOT NULL,
		text TEXT NOT NULL,
		embedding BLOB NOT NULL,
		page INTEGER,
		start_offset INTEGER,
		end_offset INTEGER,
		position INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fragments_source_id ON fragments(source_id);

	CREATE TABLE IF NOT EXISTS answers (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		display_text TEXT NOT NULL,
		raw_text TEXT NOT NULL,
		citations TEXT NOT NULL,
		no_grounding INTEGER NOT NULL DEFAULT 0,
		strict INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_answers_created_at ON answers(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

const upsertFragment = `
	INSERT INTO fragments (id, source_id, text, embedding, page, start_offset, end_offset, position, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		source_id = excluded.source_id,
		text = excluded.text,
		embedding = excluded.embedding,
		page = excluded.page,
		start_offset = excluded.start_offset,
		end_offset = excluded.end_offset,
		position = excluded.position,
		created_at = excluded.created_at`

// SaveFragments upserts fragments in a transaction.
func (s *SQLiteStorage) SaveFragments(ctx context.Context, frags []*models.Fragment) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertFragments(ctx, tx, frags)
	})
}

// ReplaceSource deletes the fragments of sourceID and inserts frags atomically.
func (s *SQLiteStorage) ReplaceSource(ctx context.Context, sourceID string, frags []*models.Fragment) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM fragments WHERE source_id = ?`, sourceID); err != nil {
			return err
		}
		return insertFragments(ctx, tx, frags)
	})
}

func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func insertFragments(ctx context.Context, tx *sql.Tx, frags []*models.Fragment) error {
	if len(frags) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, upsertFragment)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range frags {
		var page, start, end sql.NullInt64
		if f.Location != nil {
			page = sql.NullInt64{Int64: int64(f.Location.Page), Valid: true}
			start = sql.NullInt64{Int64: int64(f.Location.Start), Valid: true}
			end = sql.NullInt64{Int64: int64(f.Location.End), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			f.ID, f.SourceID, f.Text, EncodeEmbedding(f.Embedding),
			page, start, end, f.Position, f.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert fragment %s: %w", f.ID, err)
		}
	}
	return nil
}

// DeleteFragmentsBySource removes all fragments of a source and returns how many were removed.
func (s *SQLiteStorage) DeleteFragmentsBySource(ctx context.Context, sourceID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fragments WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// LoadFragments returns every fragment ordered by insertion.
func (s *SQLiteStorage) LoadFragments(ctx context.Context) ([]*models.Fragment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, text, embedding, page, start_offset, end_offset, position, created_at
		 FROM fragments ORDER BY seq`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frags []*models.Fragment
	for rows.Next() {
		var f models.Fragment
		var blob []byte
		var page, start, end sql.NullInt64
		if err := rows.Scan(&f.ID, &f.SourceID, &f.Text, &blob, &page, &start, &end, &f.Position, &f.CreatedAt); err != nil {
			return nil, err
		}
		if f.Embedding, err = DecodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("fragment %s: %w", f.ID, err)
		}
		if start.Valid {
			f.Location = &models.Location{Page: int(page.Int64), Start: int(start.Int64), End: int(end.Int64)}
		}
		frags = append(frags, &f)
	}
	return frags, rows.Err()
}

// CountFragments returns the total number of fragments.
func (s *SQLiteStorage) CountFragments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fragments`).Scan(&count)
	return count, err
}

// SaveAnswer inserts or replaces an answer.
func (s *SQLiteStorage) SaveAnswer(ctx context.Context, a *models.Answer) error {
	citations, err := json.Marshal(a.Citations)
	if err != nil {
		return fmt.Errorf("failed to marshal citations: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO answers (id, query, display_text, raw_text, citations, no_grounding, strict, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Query, a.DisplayText, a.RawText, string(citations), a.NoGrounding, a.Strict, a.CreatedAt,
	)
	return err
}

const selectAnswer = `SELECT id, query, display_text, raw_text, citations, no_grounding, strict, created_at FROM answers`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnswer(row rowScanner) (*models.Answer, error) {
	var a models.Answer
	var citations string
	if err := row.Scan(&a.ID, &a.Query, &a.DisplayText, &a.RawText, &citations, &a.NoGrounding, &a.Strict, &a.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(citations), &a.Citations); err != nil {
		return nil, fmt.Errorf("%w: answer %s citations: %w", models.ErrStorageCorruption, a.ID, err)
	}
	return &a, nil
}

// GetAnswer returns the answer with the given id, or models.ErrNotFound.
func (s *SQLiteStorage) GetAnswer(ctx context.Context, id string) (*models.Answer, error) {
	a, err := scanAnswer(s.db.QueryRowContext(ctx, selectAnswer+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("answer %s: %w", id, models.ErrNotFound)
	}
	return a, err
}

// ListAnswers returns up to limit answers, newest first.
func (s *SQLiteStorage) ListAnswers(ctx context.Context, limit int) ([]*models.Answer, error) {
	rows, err := s.db.QueryContext(ctx, selectAnswer+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
