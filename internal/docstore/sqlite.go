package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (collection, id)
	);
	CREATE INDEX IF NOT EXISTS documents_updated_idx ON documents (collection, updated_at);
`

// SQLiteStore is a SQLite implementation of Store for single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite database at path and prepares the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get retrieves a document by id.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, body, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)

	doc, err := scanSQLiteDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// Put creates or replaces a document.
func (s *SQLiteStore) Put(ctx context.Context, collection, id string, body []byte) error {
	now := time.Now().UTC().UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at
	`, collection, id, string(body), now, now)
	return err
}

// Find returns the documents matching q.
func (s *SQLiteStore) Find(ctx context.Context, collection string, q Query) ([]*Document, error) {
	if err := validateField(q.Field); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, body, created_at, updated_at FROM documents WHERE collection = ?`)
	args := []any{collection}

	if q.Field != "" {
		sb.WriteString(` AND json_extract(body, '$.' || ?) = ?`)
		args = append(args, q.Field, sqliteValue(q.Value))
	}
	if !q.UpdatedBefore.IsZero() {
		sb.WriteString(` AND updated_at < ?`)
		args = append(args, q.UpdatedBefore.UTC().UnixNano())
	}

	if q.Newest {
		sb.WriteString(` ORDER BY seq DESC`)
	} else {
		sb.WriteString(` ORDER BY seq ASC`)
	}

	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// Delete removes a document.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDocument(row sqliteScanner) (*Document, error) {
	var (
		doc       Document
		body      string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&doc.ID, &body, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	doc.Body = []byte(body)
	doc.CreatedAt = time.Unix(0, createdAt).UTC()
	doc.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &doc, nil
}

// sqliteValue converts a query value to what json_extract returns for the
// same JSON scalar: booleans come back as 0/1.
func sqliteValue(v any) any {
	switch val := v.(type) {
	case bool:
		if val {
			return 1
		}
		return 0
	case string, int, int64, float64:
		return val
	default:
		return fieldText(val)
	}
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
