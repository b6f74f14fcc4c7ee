package docstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// Collection is a typed view over one collection of a Store.
// Values are stored as their JSON encoding.
type Collection[T any] struct {
	store Store
	name  string
}

// NewCollection creates a typed collection.
func NewCollection[T any](store Store, name string) *Collection[T] {
	return &Collection[T]{store: store, name: name}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Get decodes the document with the given id.
func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	doc, err := c.store.Get(ctx, c.name, id)
	if err != nil {
		return nil, err
	}
	return decode[T](doc)
}

// Put encodes v and stores it under id.
func (c *Collection[T]) Put(ctx context.Context, id string, v *T) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s document: %w", c.name, err)
	}
	return c.store.Put(ctx, c.name, id, body)
}

// Find decodes every document matching q.
func (c *Collection[T]) Find(ctx context.Context, q Query) ([]*T, error) {
	docs, err := c.store.Find(ctx, c.name, q)
	if err != nil {
		return nil, err
	}

	items := make([]*T, 0, len(docs))
	for _, doc := range docs {
		item, err := decode[T](doc)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Documents returns the raw documents matching q, for callers that need ids
// or store timestamps.
func (c *Collection[T]) Documents(ctx context.Context, q Query) ([]*Document, error) {
	return c.store.Find(ctx, c.name, q)
}

// Delete removes the document with the given id.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.store.Delete(ctx, c.name, id)
}

func decode[T any](doc *Document) (*T, error) {
	var v T
	if err := json.Unmarshal(doc.Body, &v); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", doc.ID, err)
	}
	return &v, nil
}
