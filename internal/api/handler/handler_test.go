package handler_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/aistatus/aistatus/internal/api/middleware"
	"github.com/aistatus/aistatus/internal/api/models"
	"github.com/aistatus/aistatus/internal/provider"
)

func testRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	reg, err := provider.NewRegistry([]provider.Provider{
		{ID: "openai", Name: "OpenAI", StatusURL: "https://status.openai.com/api/v2/status.json", Format: provider.FormatStatuspage, Active: true},
		{ID: "anthropic", Name: "Anthropic", StatusURL: "https://status.anthropic.com/api/v2/status.json", Format: provider.FormatStatuspage, Active: true},
		{ID: "legacy", Name: "Legacy", StatusURL: "https://status.legacy.example/api/v2/status.json", Format: provider.FormatStatuspage, Active: false},
	})
	require.NoError(t, err)
	return reg
}

// serve routes a single request through a chi router so URL params resolve.
func serve(t *testing.T, method, pattern, target string, body io.Reader, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.MethodFunc(method, pattern, h)

	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	return decode[models.Problem](t, rec)
}
