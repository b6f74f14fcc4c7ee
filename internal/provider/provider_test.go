package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aistatus/aistatus/internal/provider"
)

func TestDefaultsAreValid(t *testing.T) {
	registry, err := provider.NewRegistry(provider.Defaults())
	require.NoError(t, err)

	p, ok := registry.Get("openai")
	require.True(t, ok)
	assert.Equal(t, provider.FormatStatuspage, p.Format)
	assert.Equal(t, "https://status.openai.com/api/v2/status.json", p.StatusURL)

	g, ok := registry.Get("google-ai")
	require.True(t, ok)
	assert.Equal(t, provider.FormatIncidentList, g.Format)
}

func TestRegistry_ActivePreservesOrder(t *testing.T) {
	registry, err := provider.NewRegistry([]provider.Provider{
		{ID: "b", Name: "B", StatusURL: "https://b.example.com/s.json", Format: provider.FormatStatuspage, Active: true},
		{ID: "a", Name: "A", StatusURL: "https://a.example.com/s.json", Format: provider.FormatStatuspage},
		{ID: "c", Name: "C", StatusURL: "https://c.example.com/s.json", Format: provider.FormatStatusField, Active: true},
	})
	require.NoError(t, err)

	active := registry.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "b", active[0].ID)
	assert.Equal(t, "c", active[1].ID)

	assert.Len(t, registry.All(), 3)
	assert.Equal(t, []string{"a", "b", "c"}, registry.IDs())

	_, ok := registry.Get("missing")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	valid := provider.Provider{ID: "x", Name: "X", StatusURL: "https://x.example.com/s.json", Format: provider.FormatStatuspage}

	tests := []struct {
		name      string
		providers []provider.Provider
		wantErr   error
	}{
		{name: "valid", providers: []provider.Provider{valid}},
		{name: "duplicate id", providers: []provider.Provider{valid, valid}, wantErr: provider.ErrDuplicateID},
		{name: "missing id", providers: []provider.Provider{{Name: "X"}}, wantErr: provider.ErrInvalidConfig},
		{
			name:      "unknown format",
			providers: []provider.Provider{{ID: "x", Name: "X", StatusURL: "https://x.example.com", Format: "rss"}},
			wantErr:   provider.ErrInvalidConfig,
		},
		{
			name:      "relative url",
			providers: []provider.Provider{{ID: "x", Name: "X", StatusURL: "/status", Format: provider.FormatStatuspage}},
			wantErr:   provider.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := provider.Validate(tt.providers)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
