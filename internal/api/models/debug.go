package models

import "strings"

// canonicalStatuses are the values accepted for injected transitions.
var canonicalStatuses = []string{"operational", "degraded", "down", "unknown"}

// TransitionRequest asks for a synthetic status transition.
type TransitionRequest struct {
	ProviderID     string `json:"providerId"`
	CurrentStatus  string `json:"currentStatus"`
	PreviousStatus string `json:"previousStatus,omitempty"`
}

// TransitionRequestShape documents the body POST /v1/debug/transitions accepts.
var TransitionRequestShape = map[string]string{
	"providerId":     "string, required, a configured provider id",
	"currentStatus":  "string, required, one of " + strings.Join(canonicalStatuses, "|"),
	"previousStatus": "string, optional, one of " + strings.Join(canonicalStatuses, "|") + "; defaults to the last recorded status",
}

// Validate checks the request fields.
func (r *TransitionRequest) Validate() []FieldError {
	var errs []FieldError
	if strings.TrimSpace(r.ProviderID) == "" {
		errs = append(errs, FieldError{Field: "providerId", Message: "providerId is required", Code: CodeRequired})
	}
	switch {
	case r.CurrentStatus == "":
		errs = append(errs, FieldError{Field: "currentStatus", Message: "currentStatus is required", Code: CodeRequired})
	case !isCanonical(r.CurrentStatus):
		errs = append(errs, FieldError{Field: "currentStatus", Message: "currentStatus must be one of " + strings.Join(canonicalStatuses, ", "), Code: CodeInvalid})
	}
	if r.PreviousStatus != "" && !isCanonical(r.PreviousStatus) {
		errs = append(errs, FieldError{Field: "previousStatus", Message: "previousStatus must be one of " + strings.Join(canonicalStatuses, ", "), Code: CodeInvalid})
	}
	return errs
}

func isCanonical(s string) bool {
	for _, c := range canonicalStatuses {
		if s == c {
			return true
		}
	}
	return false
}
