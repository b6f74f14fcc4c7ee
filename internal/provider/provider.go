// Package provider holds the registry of monitored AI services.
package provider

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
)

// Format tags how a provider's status endpoint encodes its status.
type Format string

// Supported response formats.
const (
	// FormatStatuspage is the Atlassian Statuspage summary/status JSON
	// ({"status":{"indicator":"none"}}).
	FormatStatuspage Format = "statuspage"

	// FormatIncidentList is an array of incidents (or {"incidents":[...]}),
	// normalized by the presence of open entries.
	FormatIncidentList Format = "incident_list"

	// FormatStatusField is a JSON object with a top-level "status" string.
	FormatStatusField Format = "status_field"
)

// IsValid reports whether f is a known format.
func (f Format) IsValid() bool {
	switch f {
	case FormatStatuspage, FormatIncidentList, FormatStatusField:
		return true
	}
	return false
}

// Provider is a monitored third-party AI service.
type Provider struct {
	ID            string `json:"id" mapstructure:"id" yaml:"id"`
	Name          string `json:"name" mapstructure:"name" yaml:"name"`
	StatusURL     string `json:"statusUrl" mapstructure:"status_url" yaml:"status_url"`
	StatusPageURL string `json:"statusPageUrl" mapstructure:"status_page_url" yaml:"status_page_url"`
	Format        Format `json:"responseFormat" mapstructure:"format" yaml:"format"`
	Active        bool   `json:"active" mapstructure:"active" yaml:"active"`
}

// Registry errors.
var (
	ErrDuplicateID   = errors.New("duplicate provider id")
	ErrInvalidConfig = errors.New("invalid provider")
)

// Registry is the immutable set of providers loaded at process start.
type Registry struct {
	byID  map[string]Provider
	order []string
}

// NewRegistry validates providers and builds a registry. Order is preserved.
func NewRegistry(providers []Provider) (*Registry, error) {
	if err := Validate(providers); err != nil {
		return nil, err
	}

	r := &Registry{
		byID:  make(map[string]Provider, len(providers)),
		order: make([]string, 0, len(providers)),
	}
	for _, p := range providers {
		r.byID[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	return r, nil
}

// Validate checks a provider list for duplicate ids, missing fields and
// unknown formats. It does not check URL safety; the prober does that at
// request time.
func Validate(providers []Provider) error {
	seen := make(map[string]struct{}, len(providers))
	var errs []error

	for i, p := range providers {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("%w: entry %d has no id", ErrInvalidConfig, i))
			continue
		}
		if _, ok := seen[p.ID]; ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateID, p.ID))
			continue
		}
		seen[p.ID] = struct{}{}

		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%w: %s has no name", ErrInvalidConfig, p.ID))
		}
		if u, err := url.Parse(p.StatusURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("%w: %s has an invalid status url", ErrInvalidConfig, p.ID))
		}
		if !p.Format.IsValid() {
			errs = append(errs, fmt.Errorf("%w: %s has unknown format %q", ErrInvalidConfig, p.ID, p.Format))
		}
	}

	return errors.Join(errs...)
}

// Get returns the provider with the given id.
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Active returns the active providers in registration order.
func (r *Registry) Active() []Provider {
	active := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		if p := r.byID[id]; p.Active {
			active = append(active, p)
		}
	}
	return active
}

// All returns every provider in registration order.
func (r *Registry) All() []Provider {
	all := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		all = append(all, r.byID[id])
	}
	return all
}

// IDs returns the sorted provider ids.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	sort.Strings(ids)
	return ids
}

// Len returns the number of providers.
func (r *Registry) Len() int {
	return len(r.order)
}
