package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aistatus/aistatus/internal/api/handler"
	"github.com/aistatus/aistatus/internal/docstore"
	"github.com/aistatus/aistatus/internal/featureflags"
)

func newFlagsHandler(t *testing.T) (*handler.FeatureFlagsHandler, *featureflags.Service) {
	t.Helper()
	svc := featureflags.NewService(featureflags.ServiceConfig{
		Repository: featureflags.NewRepository(docstore.NewMemoryStore()),
		Logger:     zerolog.Nop(),
	})
	return handler.NewFeatureFlagsHandler(svc, zerolog.Nop()), svc
}

func TestListFeatureFlags_IncludesDefaults(t *testing.T) {
	h, _ := newFlagsHandler(t)

	rec := serve(t, http.MethodGet, "/v1/admin/feature-flags", "/v1/admin/feature-flags", nil, h.ListFeatureFlags)

	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[featureflags.FlagList](t, rec)
	var keys []string
	for _, f := range list.Items {
		keys = append(keys, f.Key)
	}
	assert.Contains(t, keys, featureflags.FlagDebugInjection)
	assert.IsIncreasing(t, keys)
}

func TestUpsertFeatureFlags(t *testing.T) {
	h, svc := newFlagsHandler(t)
	ctx := context.Background()
	require.False(t, svc.IsDebugInjectionEnabled(ctx))

	rec := serve(t, http.MethodPut, "/v1/admin/feature-flags", "/v1/admin/feature-flags",
		jsonBody(`{"updates":[{"key":"debug_injection_enabled","value":true}],"reason":"incident drill"}`), h.UpsertFeatureFlags)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, svc.IsDebugInjectionEnabled(ctx))
}

func TestUpsertFeatureFlags_Invalid(t *testing.T) {
	h, _ := newFlagsHandler(t)

	for name, body := range map[string]string{
		"malformed":  `{"updates":`,
		"no updates": `{"updates":[]}`,
		"empty key":  `{"updates":[{"key":" ","value":true}]}`,
		"unknown":    `{"updates":[{"key":"dark_mode","value":true}]}`,
		"wrong kind": `{"updates":[{"key":"pause_probing","value":"yes"}]}`,
		"fraction":   `{"updates":[{"key":"max_drain_batch","value":2.5}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := serve(t, http.MethodPut, "/v1/admin/feature-flags", "/v1/admin/feature-flags", jsonBody(body), h.UpsertFeatureFlags)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestInvalidateCache(t *testing.T) {
	h, _ := newFlagsHandler(t)

	rec := serve(t, http.MethodPost, "/v1/admin/feature-flags/invalidate", "/v1/admin/feature-flags/invalidate", nil, h.InvalidateCache)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUpsertFeatureFlags_IntFlag(t *testing.T) {
	h, svc := newFlagsHandler(t)

	rec := serve(t, http.MethodPut, "/v1/admin/feature-flags", "/v1/admin/feature-flags",
		jsonBody(`{"updates":[{"key":"max_drain_batch","value":25}],"reason":"slow smtp relay"}`), h.UpsertFeatureFlags)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 25, svc.MaxDrainBatch(context.Background()))
	assert.Equal(t, "slow smtp relay", svc.GetFlag(context.Background(), featureflags.FlagMaxDrainBatch).Reason)
}
