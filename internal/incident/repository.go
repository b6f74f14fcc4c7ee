package incident

import (
	"context"
	"errors"
	"fmt"

	"github.com/aistatus/aistatus/internal/docstore"
)

// Collection is the document collection holding incidents.
const Collection = "incidents"

// Repository defines the interface for incident persistence.
type Repository interface {
	// Get retrieves an incident by id.
	Get(ctx context.Context, id string) (*Incident, error)

	// Save creates or replaces an incident.
	Save(ctx context.Context, incident *Incident) error

	// OpenFor returns the provider's non-resolved incident, or nil.
	OpenFor(ctx context.Context, providerID string) (*Incident, error)

	// List returns incidents newest first.
	List(ctx context.Context, opts ListOptions) ([]*Incident, error)
}

// DocumentRepository is a Repository on top of a docstore.Store.
type DocumentRepository struct {
	incidents *docstore.Collection[Incident]
}

// NewRepository creates an incident repository on store.
func NewRepository(store docstore.Store) *DocumentRepository {
	return &DocumentRepository{
		incidents: docstore.NewCollection[Incident](store, Collection),
	}
}

// Get retrieves an incident by id.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*Incident, error) {
	inc, err := r.incidents.Get(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrIncidentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// Save creates or replaces an incident.
func (r *DocumentRepository) Save(ctx context.Context, incident *Incident) error {
	incident.Open = incident.IsOpen()
	if err := r.incidents.Put(ctx, incident.ID, incident); err != nil {
		return fmt.Errorf("save incident: %w", err)
	}
	return nil
}

// OpenFor returns the provider's open incident, or nil if there is none.
func (r *DocumentRepository) OpenFor(ctx context.Context, providerID string) (*Incident, error) {
	open, err := r.incidents.Find(ctx, docstore.Query{Field: "open", Value: true})
	if err != nil {
		return nil, fmt.Errorf("find open incidents: %w", err)
	}
	for _, inc := range open {
		if inc.ProviderID == providerID {
			return inc, nil
		}
	}
	return nil, nil
}

// List returns incidents newest first.
func (r *DocumentRepository) List(ctx context.Context, opts ListOptions) ([]*Incident, error) {
	q := docstore.Query{Newest: true}
	switch {
	case opts.OnlyOpen:
		q.Field, q.Value = "open", true
	case opts.ProviderID != "":
		q.Field, q.Value = "providerId", opts.ProviderID
	}
	if opts.ProviderID == "" || !opts.OnlyOpen {
		q.Limit = opts.Limit
	}

	items, err := r.incidents.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}

	if opts.OnlyOpen && opts.ProviderID != "" {
		filtered := items[:0]
		for _, inc := range items {
			if inc.ProviderID == opts.ProviderID {
				filtered = append(filtered, inc)
			}
		}
		items = filtered
		if opts.Limit > 0 && len(items) > opts.Limit {
			items = items[:opts.Limit]
		}
	}
	return items, nil
}

// Ensure DocumentRepository implements Repository.
var _ Repository = (*DocumentRepository)(nil)
