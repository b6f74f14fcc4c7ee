package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// API surfaces, the first path segment under /v1.
const (
	SurfacePublic        = "public"
	SurfaceOps           = "ops"
	SurfaceCron          = "cron"
	SurfaceDebug         = "debug"
	SurfaceAdmin         = "admin"
	SurfaceSubscriptions = "subscriptions"
)

// responseRecorder captures the status code and body size for logging,
// tracing and metrics.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// routePattern returns the matched chi route pattern, or the raw path when
// the request was not routed through chi.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// surface classifies a request by the API surface it targets. Read endpoints
// (providers, status, incidents) are public.
func surface(r *http.Request) string {
	rest, ok := strings.CutPrefix(r.URL.Path, "/v1/")
	if !ok {
		return SurfacePublic
	}
	segment, _, _ := strings.Cut(rest, "/")
	switch segment {
	case SurfaceOps, SurfaceCron, SurfaceDebug, SurfaceAdmin, SurfaceSubscriptions:
		return segment
	}
	return SurfacePublic
}

// rejectionReason names why a request was refused, or "" for other statuses.
func rejectionReason(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusUnsupportedMediaType:
		return "unsupported_media_type"
	case http.StatusServiceUnavailable:
		return "unavailable"
	}
	return ""
}
