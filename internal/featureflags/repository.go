package featureflags

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aistatus/aistatus/internal/docstore"
)

// ErrFlagNotFound is returned when a feature flag is not found.
var ErrFlagNotFound = errors.New("feature flag not found")

// Collection is the document collection holding flag overrides.
const Collection = "feature_flags"

// Repository defines the interface for feature flag storage.
type Repository interface {
	// GetFlag retrieves a single feature flag by key.
	GetFlag(ctx context.Context, key string) (*Flag, error)

	// GetAllFlags retrieves all feature flags.
	GetAllFlags(ctx context.Context) (map[string]*Flag, error)

	// SetFlag creates or updates a feature flag.
	SetFlag(ctx context.Context, flag *Flag) error

	// SetFlags creates or updates multiple feature flags.
	SetFlags(ctx context.Context, flags []*Flag) error

	// DeleteFlag removes a feature flag by key.
	DeleteFlag(ctx context.Context, key string) error
}

// DocumentRepository stores flags in a docstore collection, one document per key.
type DocumentRepository struct {
	flags *docstore.Collection[Flag]
	now   func() time.Time
}

// NewRepository creates a flag repository on store.
func NewRepository(store docstore.Store) *DocumentRepository {
	return &DocumentRepository{
		flags: docstore.NewCollection[Flag](store, Collection),
		now:   time.Now,
	}
}

// GetFlag retrieves a single feature flag by key.
func (r *DocumentRepository) GetFlag(ctx context.Context, key string) (*Flag, error) {
	flag, err := r.flags.Get(ctx, key)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrFlagNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flag %s: %w", key, err)
	}
	return flag, nil
}

// GetAllFlags retrieves all stored feature flags.
func (r *DocumentRepository) GetAllFlags(ctx context.Context) (map[string]*Flag, error) {
	flags, err := r.flags.Find(ctx, docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}

	result := make(map[string]*Flag, len(flags))
	for _, flag := range flags {
		result[flag.Key] = flag
	}
	return result, nil
}

// SetFlag creates or updates a feature flag.
func (r *DocumentRepository) SetFlag(ctx context.Context, flag *Flag) error {
	stored := &Flag{Key: flag.Key, Value: flag.Value, Reason: flag.Reason, UpdatedAt: r.now()}
	if err := r.flags.Put(ctx, flag.Key, stored); err != nil {
		return fmt.Errorf("set flag %s: %w", flag.Key, err)
	}
	return nil
}

// SetFlags creates or updates multiple feature flags. Flags are written one
// by one; a failure leaves earlier flags updated.
func (r *DocumentRepository) SetFlags(ctx context.Context, flags []*Flag) error {
	for _, flag := range flags {
		if err := r.SetFlag(ctx, flag); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFlag removes a feature flag by key.
func (r *DocumentRepository) DeleteFlag(ctx context.Context, key string) error {
	err := r.flags.Delete(ctx, key)
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrFlagNotFound
	}
	if err != nil {
		return fmt.Errorf("delete flag %s: %w", key, err)
	}
	return nil
}

// Ensure DocumentRepository implements Repository.
var _ Repository = (*DocumentRepository)(nil)
