// Package docstore provides the document store every repository is built on.
// Documents are JSON bodies addressed by (collection, id) and can be queried
// by a single top-level field.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Store errors.
var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidField = errors.New("invalid query field")
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Document is a stored JSON body with store-maintained timestamps.
type Document struct {
	ID        string
	Body      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Query selects documents from a collection.
type Query struct {
	// Field is a top-level JSON field to match. Empty matches every document.
	Field string

	// Value is compared against Field's value. Strings, bools and numbers are supported.
	Value any

	// Limit caps the number of returned documents. Zero or less means no limit.
	Limit int

	// Newest returns documents in reverse insertion order.
	Newest bool

	// UpdatedBefore, if set, only matches documents last written before it.
	UpdatedBefore time.Time
}

// Store is the storage boundary for all persisted records.
type Store interface {
	// Get returns a document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Put creates or replaces a document. Replacing keeps the original insertion order.
	Put(ctx context.Context, collection, id string, body []byte) error

	// Find returns documents matching the query in insertion order.
	Find(ctx context.Context, collection string, q Query) ([]*Document, error)

	// Delete removes a document. Deleting a missing document returns ErrNotFound.
	Delete(ctx context.Context, collection, id string) error

	// Close releases resources held by the store.
	Close() error
}

func validateField(field string) error {
	if field == "" || fieldPattern.MatchString(field) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidField, field)
}

// fieldText renders a JSON scalar the way PostgreSQL's ->> operator does, so
// every implementation compares field values identically.
func fieldText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
