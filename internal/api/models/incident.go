package models

import "github.com/aistatus/aistatus/internal/incident"

// IncidentList is the response of GET /v1/incidents.
type IncidentList struct {
	Items []*incident.Incident `json:"items"`
	Meta  PagedResponseMeta    `json:"meta"`
}

// IncidentUpdateRequest is the body of POST /v1/admin/incidents/{incidentId}/updates.
type IncidentUpdateRequest struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Author  string `json:"author"`
}

// IncidentUpdateRequestShape documents the accepted body.
var IncidentUpdateRequestShape = map[string]string{
	"status":  "string, required, one of investigating|identified|monitoring|resolved",
	"message": "string, required",
	"author":  "string, optional, defaults to operator",
}

// Validate checks required fields.
func (r *IncidentUpdateRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Status == "" {
		errs = append(errs, FieldError{Field: "status", Message: "status is required", Code: CodeRequired})
	}
	if r.Message == "" {
		errs = append(errs, FieldError{Field: "message", Message: "message is required", Code: CodeRequired})
	}
	return errs
}
