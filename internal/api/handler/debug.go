package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aistatus/aistatus/internal/api/models"
	"github.com/aistatus/aistatus/internal/api/response"
	"github.com/aistatus/aistatus/internal/status"
	"github.com/aistatus/aistatus/internal/worker"
)

// maxDebugBody caps the debug request body.
const maxDebugBody = 4 << 10

// Injector runs synthetic transitions. *worker.Monitor satisfies it.
type Injector interface {
	Inject(ctx context.Context, providerID string, current, previous status.Status) (*worker.InjectResult, error)
}

// DebugHandler handles debug endpoints. The router gates it behind
// middleware.DebugGate.
type DebugHandler struct {
	injector Injector
	logger   zerolog.Logger
}

// NewDebugHandler creates a new DebugHandler.
func NewDebugHandler(injector Injector, logger zerolog.Logger) *DebugHandler {
	return &DebugHandler{injector: injector, logger: logger}
}

// InjectTransition handles POST /v1/debug/transitions - run a synthetic
// status transition through the incident and notification pipeline.
func (h *DebugHandler) InjectTransition(w http.ResponseWriter, r *http.Request) {
	var input models.TransitionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDebugBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		response.BadRequestWithShape(w, r, "invalid JSON body", nil, models.TransitionRequestShape)
		return
	}
	if errs := input.Validate(); len(errs) > 0 {
		response.BadRequestWithShape(w, r, "invalid transition", errs, models.TransitionRequestShape)
		return
	}

	result, err := h.injector.Inject(r.Context(), input.ProviderID,
		status.Status(input.CurrentStatus), status.Status(input.PreviousStatus))
	if err != nil {
		if errors.Is(err, worker.ErrUnknownProvider) {
			response.NotFound(w, r, "provider not found")
			return
		}
		h.logger.Error().Err(err).Str("provider_id", input.ProviderID).Msg("debug injection failed")
		response.InternalError(w, r, "transition injection failed")
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}
