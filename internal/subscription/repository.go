package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/aistatus/aistatus/internal/docstore"
)

// Collection is the document collection holding subscriptions.
const Collection = "subscriptions"

// Repository defines the interface for subscription persistence.
type Repository interface {
	// Get retrieves a subscription by normalized email.
	Get(ctx context.Context, email string) (*Subscription, error)

	// Save creates or replaces a subscription.
	Save(ctx context.Context, sub *Subscription) error

	// Delete removes a subscription.
	Delete(ctx context.Context, email string) error

	// FindByToken returns the subscription holding a confirmation token.
	FindByToken(ctx context.Context, token string) (*Subscription, error)

	// ListConfirmed returns every confirmed subscription.
	ListConfirmed(ctx context.Context) ([]*Subscription, error)

	// ListUnconfirmed returns every unconfirmed subscription.
	ListUnconfirmed(ctx context.Context) ([]*Subscription, error)
}

// DocumentRepository is a Repository on top of a docstore.Store.
type DocumentRepository struct {
	subs *docstore.Collection[Subscription]
}

// NewRepository creates a subscription repository on store.
func NewRepository(store docstore.Store) *DocumentRepository {
	return &DocumentRepository{
		subs: docstore.NewCollection[Subscription](store, Collection),
	}
}

// Get retrieves a subscription by normalized email.
func (r *DocumentRepository) Get(ctx context.Context, email string) (*Subscription, error) {
	sub, err := r.subs.Get(ctx, email)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// Save creates or replaces a subscription.
func (r *DocumentRepository) Save(ctx context.Context, sub *Subscription) error {
	if err := r.subs.Put(ctx, sub.Email, sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// Delete removes a subscription.
func (r *DocumentRepository) Delete(ctx context.Context, email string) error {
	err := r.subs.Delete(ctx, email)
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrSubscriptionNotFound
	}
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// FindByToken returns the subscription holding a confirmation token.
func (r *DocumentRepository) FindByToken(ctx context.Context, token string) (*Subscription, error) {
	subs, err := r.subs.Find(ctx, docstore.Query{Field: "confirmationToken", Value: token, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("find subscription by token: %w", err)
	}
	if len(subs) == 0 {
		return nil, ErrTokenNotFound
	}
	return subs[0], nil
}

// ListConfirmed returns every confirmed subscription.
func (r *DocumentRepository) ListConfirmed(ctx context.Context) ([]*Subscription, error) {
	return r.list(ctx, true)
}

// ListUnconfirmed returns every unconfirmed subscription.
func (r *DocumentRepository) ListUnconfirmed(ctx context.Context) ([]*Subscription, error) {
	return r.list(ctx, false)
}

func (r *DocumentRepository) list(ctx context.Context, confirmed bool) ([]*Subscription, error) {
	subs, err := r.subs.Find(ctx, docstore.Query{Field: "confirmed", Value: confirmed})
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// Ensure DocumentRepository implements Repository.
var _ Repository = (*DocumentRepository)(nil)
