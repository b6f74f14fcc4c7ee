package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aistatus/aistatus/internal/docstore"
)

// HistoryCollection is the document collection holding status history.
const HistoryCollection = "status_history"

// HistoryRepository is the append-only log of probe results. It is the only
// persisted record of a provider's previous status.
type HistoryRepository interface {
	// Append stores a result.
	Append(ctx context.Context, result Result) error

	// Latest returns the most recent result for a provider, or nil if none exists.
	Latest(ctx context.Context, providerID string) (*Result, error)

	// Recent returns up to limit results for a provider, newest first.
	Recent(ctx context.Context, providerID string, limit int) ([]Result, error)

	// PruneOlderThan deletes results stored before cutoff and returns how many were removed.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// DocumentHistoryRepository is a HistoryRepository on top of a docstore.Store.
type DocumentHistoryRepository struct {
	results *docstore.Collection[Result]
}

// NewHistoryRepository creates a history repository on store.
func NewHistoryRepository(store docstore.Store) *DocumentHistoryRepository {
	return &DocumentHistoryRepository{
		results: docstore.NewCollection[Result](store, HistoryCollection),
	}
}

// Append stores a result under a fresh id.
func (r *DocumentHistoryRepository) Append(ctx context.Context, result Result) error {
	if err := r.results.Put(ctx, uuid.NewString(), &result); err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}

// Latest returns the newest result for a provider.
func (r *DocumentHistoryRepository) Latest(ctx context.Context, providerID string) (*Result, error) {
	items, err := r.results.Find(ctx, docstore.Query{
		Field:  "providerId",
		Value:  providerID,
		Newest: true,
		Limit:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("read latest status: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// Recent returns up to limit results for a provider, newest first.
func (r *DocumentHistoryRepository) Recent(ctx context.Context, providerID string, limit int) ([]Result, error) {
	items, err := r.results.Find(ctx, docstore.Query{
		Field:  "providerId",
		Value:  providerID,
		Newest: true,
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("read status history: %w", err)
	}

	results := make([]Result, 0, len(items))
	for _, item := range items {
		results = append(results, *item)
	}
	return results, nil
}

// PruneOlderThan deletes results stored before cutoff.
func (r *DocumentHistoryRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	docs, err := r.staleIDs(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, id := range docs {
		if err := r.results.Delete(ctx, id); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return pruned, fmt.Errorf("prune status history: %w", err)
		}
		pruned++
	}
	return pruned, nil
}

func (r *DocumentHistoryRepository) staleIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	docs, err := r.results.Documents(ctx, docstore.Query{UpdatedBefore: cutoff})
	if err != nil {
		return nil, fmt.Errorf("find stale status history: %w", err)
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return ids, nil
}

// Ensure DocumentHistoryRepository implements HistoryRepository.
var _ HistoryRepository = (*DocumentHistoryRepository)(nil)
