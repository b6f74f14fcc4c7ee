// Package response writes JSON and problem+json responses that carry the
// request id.
package response

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/aistatus/aistatus/internal/api/middleware"
	"github.com/aistatus/aistatus/internal/api/models"
	"github.com/aistatus/aistatus/internal/ratelimit"
)

// JSON writes data as JSON with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSON(w, r, status, "", data)
}

// Accepted writes a 202, with a Location header when location is set.
func Accepted(w http.ResponseWriter, r *http.Request, location string, data interface{}) {
	writeJSON(w, r, http.StatusAccepted, location, data)
}

// NoContent writes a 204.
func NoContent(w http.ResponseWriter, r *http.Request) {
	setRequestID(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, location string, data interface{}) {
	setRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	if location != "" {
		w.Header().Set("Location", location)
	}
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func setRequestID(w http.ResponseWriter, r *http.Request) {
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set(middleware.RequestIDHeader, requestID)
	}
}

func traceID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}

// Error writes problem with its instance set to the request path.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// BadRequest writes a 400 listing the failed fields.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(traceID(r), detail, errors))
}

// BadRequestWithShape writes a 400 that also describes the accepted body.
func BadRequestWithShape(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError, shape any) {
	Error(w, r, models.NewBadRequest(traceID(r), detail, errors).WithExpected(shape))
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewNotFound(traceID(r), detail))
}

// Conflict writes a 409.
func Conflict(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewConflict(traceID(r), detail))
}

// Gone writes a 410.
func Gone(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewGone(traceID(r), detail))
}

// Limited writes a 429 for a limiter rejection. Retry-After is the limiter's
// hint rounded up to whole seconds and X-RateLimit-Reset the matching Unix
// time. Returns false, writing nothing, when err is not a rate limit error.
func Limited(w http.ResponseWriter, r *http.Request, err error) bool {
	var limitErr *ratelimit.LimitError
	if !errors.As(err, &limitErr) {
		return false
	}

	retryAfter := int(math.Ceil(limitErr.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	reset := time.Now().Add(time.Duration(retryAfter) * time.Second).Unix()

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
	Error(w, r, models.NewTooManyRequests(traceID(r), "rate limit exceeded, retry later"))
	return true
}

// InternalError writes a 500. detail must not carry internal error text.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewInternalError(traceID(r), detail))
}

// ServiceUnavailable writes a 503.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewServiceUnavailable(traceID(r), detail))
}
