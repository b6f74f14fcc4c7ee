package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		seq BIGSERIAL,
		body JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS documents_collection_seq_idx ON documents (collection, seq);
	CREATE INDEX IF NOT EXISTS documents_collection_updated_idx ON documents (collection, updated_at);
`

// PostgresStore is a PostgreSQL implementation of Store backed by a JSONB table.
type PostgresStore struct {
	pool     *pgxpool.Pool
	ownsPool bool
}

// NewPostgresStore creates a store on an existing pool. The caller keeps
// ownership of the pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the documents table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate documents table: %w", err)
	}
	return nil
}

// Get retrieves a document by id.
func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	query := `
		SELECT id, body, created_at, updated_at
		FROM documents
		WHERE collection = $1 AND id = $2
	`

	var doc Document
	err := s.pool.QueryRow(ctx, query, collection, id).Scan(
		&doc.ID,
		&doc.Body,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// Put creates or replaces a document.
func (s *PostgresStore) Put(ctx context.Context, collection, id string, body []byte) error {
	query := `
		INSERT INTO documents (collection, id, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (collection, id) DO UPDATE SET
			body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query, collection, id, body, time.Now().UTC())
	return err
}

// Find returns the documents matching q.
func (s *PostgresStore) Find(ctx context.Context, collection string, q Query) ([]*Document, error) {
	if err := validateField(q.Field); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, body, created_at, updated_at FROM documents WHERE collection = $1`)
	args := []any{collection}

	if q.Field != "" {
		args = append(args, q.Field, fieldText(q.Value))
		fmt.Fprintf(&sb, ` AND body->>$%d = $%d`, len(args)-1, len(args))
	}
	if !q.UpdatedBefore.IsZero() {
		args = append(args, q.UpdatedBefore)
		fmt.Fprintf(&sb, ` AND updated_at < $%d`, len(args))
	}

	if q.Newest {
		sb.WriteString(` ORDER BY seq DESC`)
	} else {
		sb.WriteString(` ORDER BY seq ASC`)
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Body, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return docs, nil
}

// Delete removes a document.
func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the pool if the store opened it.
func (s *PostgresStore) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

// Ensure PostgresStore implements Store interface.
var _ Store = (*PostgresStore)(nil)
