package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aistatus/aistatus/internal/api/models"
	"github.com/aistatus/aistatus/internal/api/response"
	"github.com/aistatus/aistatus/internal/incident"
)

// Incident listing limits.
const (
	defaultIncidentLimit = 20
	maxIncidentLimit     = 100
	maxIncidentBody      = 16 << 10
	defaultUpdateAuthor  = "operator"
)

// IncidentStore reads and updates incidents. *incident.Manager satisfies it.
type IncidentStore interface {
	Get(ctx context.Context, id string) (*incident.Incident, error)
	List(ctx context.Context, opts incident.ListOptions) ([]*incident.Incident, error)
	AddManualUpdate(ctx context.Context, id string, state incident.State, message, author string) (*incident.Incident, error)
}

// IncidentsHandler handles incident endpoints.
type IncidentsHandler struct {
	incidents IncidentStore
	logger    zerolog.Logger
}

// NewIncidentsHandler creates a new IncidentsHandler.
func NewIncidentsHandler(incidents IncidentStore, logger zerolog.Logger) *IncidentsHandler {
	return &IncidentsHandler{incidents: incidents, logger: logger}
}

// ListIncidents handles GET /v1/incidents - newest first, filtered by
// ?provider= and ?open=true.
func (h *IncidentsHandler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultIncidentLimit, maxIncidentLimit)
	if !ok {
		return
	}

	opts := incident.ListOptions{
		ProviderID: r.URL.Query().Get("provider"),
		Limit:      limit,
	}
	if raw := r.URL.Query().Get("open"); raw != "" {
		open, err := strconv.ParseBool(raw)
		if err != nil {
			response.BadRequest(w, r, "invalid open filter", []models.FieldError{
				{Field: "open", Message: "open must be true or false", Code: models.CodeInvalid},
			})
			return
		}
		opts.OnlyOpen = open
	}

	items, err := h.incidents.List(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list incidents")
		response.InternalError(w, r, "failed to list incidents")
		return
	}
	if items == nil {
		items = []*incident.Incident{}
	}

	response.JSON(w, r, http.StatusOK, models.IncidentList{
		Items: items,
		Meta:  models.PagedResponseMeta{Limit: limit, Count: len(items)},
	})
}

// GetIncident handles GET /v1/incidents/{incidentId}.
func (h *IncidentsHandler) GetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.incidents.Get(r.Context(), chi.URLParam(r, "incidentId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, inc)
}

// AddUpdate handles POST /v1/admin/incidents/{incidentId}/updates - append
// an operator update. Status resolved closes the incident.
func (h *IncidentsHandler) AddUpdate(w http.ResponseWriter, r *http.Request) {
	var input models.IncidentUpdateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIncidentBody)).Decode(&input); err != nil {
		response.BadRequestWithShape(w, r, "invalid JSON body", nil, models.IncidentUpdateRequestShape)
		return
	}
	if errs := input.Validate(); len(errs) > 0 {
		response.BadRequestWithShape(w, r, "invalid incident update", errs, models.IncidentUpdateRequestShape)
		return
	}
	author := input.Author
	if author == "" {
		author = defaultUpdateAuthor
	}

	inc, err := h.incidents.AddManualUpdate(r.Context(), chi.URLParam(r, "incidentId"),
		incident.State(input.Status), input.Message, author)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, inc)
}

func (h *IncidentsHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, incident.ErrIncidentNotFound):
		response.NotFound(w, r, "incident not found")
	case errors.Is(err, incident.ErrAlreadyResolved):
		response.Conflict(w, r, "incident already resolved")
	case errors.Is(err, incident.ErrInvalidState):
		response.BadRequestWithShape(w, r, "invalid incident status", []models.FieldError{
			{Field: "status", Message: "status must be investigating, identified, monitoring or resolved", Code: models.CodeInvalid},
		}, models.IncidentUpdateRequestShape)
	default:
		h.logger.Error().Err(err).Msg("incident request failed")
		response.InternalError(w, r, "incident request failed")
	}
}
