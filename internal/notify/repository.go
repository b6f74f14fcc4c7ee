package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aistatus/aistatus/internal/docstore"
)

// Collection is the document collection holding notifications.
const Collection = "notifications"

// ErrNotificationNotFound is returned when a notification does not exist.
var ErrNotificationNotFound = errors.New("notification not found")

// Repository defines the interface for notification persistence.
type Repository interface {
	Get(ctx context.Context, id string) (*Notification, error)
	Save(ctx context.Context, n *Notification) error

	// Pending returns up to limit pending notifications, oldest first.
	Pending(ctx context.Context, limit int) ([]*Notification, error)

	// List returns up to limit notifications in a state, newest first. An
	// empty status lists every state.
	List(ctx context.Context, status Status, limit int) ([]*Notification, error)

	Count(ctx context.Context, status Status) (int, error)

	// PruneTerminal deletes sent and failed notifications last written before cutoff.
	PruneTerminal(ctx context.Context, cutoff time.Time) (int, error)
}

// DocumentRepository is a Repository on top of a docstore.Store.
type DocumentRepository struct {
	items *docstore.Collection[Notification]
}

// NewRepository creates a notification repository on store.
func NewRepository(store docstore.Store) *DocumentRepository {
	return &DocumentRepository{
		items: docstore.NewCollection[Notification](store, Collection),
	}
}

// Get retrieves a notification by id.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*Notification, error) {
	n, err := r.items.Get(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// Save creates or replaces a notification.
func (r *DocumentRepository) Save(ctx context.Context, n *Notification) error {
	if err := r.items.Put(ctx, n.ID, n); err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

// Pending returns up to limit pending notifications, oldest first.
func (r *DocumentRepository) Pending(ctx context.Context, limit int) ([]*Notification, error) {
	items, err := r.items.Find(ctx, docstore.Query{Field: "status", Value: string(StatusPending), Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	return items, nil
}

// List returns up to limit notifications in a state, newest first.
func (r *DocumentRepository) List(ctx context.Context, status Status, limit int) ([]*Notification, error) {
	q := docstore.Query{Limit: limit, Newest: true}
	if status != "" {
		q.Field, q.Value = "status", string(status)
	}
	items, err := r.items.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return items, nil
}

// Count returns the number of notifications in a state.
func (r *DocumentRepository) Count(ctx context.Context, status Status) (int, error) {
	docs, err := r.items.Documents(ctx, docstore.Query{Field: "status", Value: string(status)})
	if err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return len(docs), nil
}

// PruneTerminal deletes sent and failed notifications last written before cutoff.
func (r *DocumentRepository) PruneTerminal(ctx context.Context, cutoff time.Time) (int, error) {
	pruned := 0
	for _, st := range []Status{StatusSent, StatusFailed} {
		docs, err := r.items.Documents(ctx, docstore.Query{Field: "status", Value: string(st), UpdatedBefore: cutoff})
		if err != nil {
			return pruned, fmt.Errorf("find %s notifications: %w", st, err)
		}
		for _, doc := range docs {
			if err := r.items.Delete(ctx, doc.ID); err != nil && !errors.Is(err, docstore.ErrNotFound) {
				return pruned, fmt.Errorf("delete notification: %w", err)
			}
			pruned++
		}
	}
	return pruned, nil
}

// Ensure DocumentRepository implements Repository.
var _ Repository = (*DocumentRepository)(nil)
