package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aistatus/aistatus/internal/api/models"
	"github.com/aistatus/aistatus/internal/api/response"
	"github.com/aistatus/aistatus/internal/provider"
	"github.com/aistatus/aistatus/internal/status"
)

// History listing limits.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ProviderSource lists configured providers. *provider.Registry satisfies it.
type ProviderSource interface {
	Get(id string) (provider.Provider, bool)
	Active() []provider.Provider
	All() []provider.Provider
}

// HistoryReader reads recorded probe results. *status.DocumentHistoryRepository
// satisfies it.
type HistoryReader interface {
	Latest(ctx context.Context, providerID string) (*status.Result, error)
	Recent(ctx context.Context, providerID string, limit int) ([]status.Result, error)
}

// ProvidersHandler handles provider and status read endpoints.
type ProvidersHandler struct {
	providers ProviderSource
	history   HistoryReader
	logger    zerolog.Logger
	now       func() time.Time
}

// NewProvidersHandler creates a new ProvidersHandler.
func NewProvidersHandler(providers ProviderSource, history HistoryReader, logger zerolog.Logger) *ProvidersHandler {
	return &ProvidersHandler{
		providers: providers,
		history:   history,
		logger:    logger,
		now:       time.Now,
	}
}

// ListProviders handles GET /v1/providers - list configured providers.
func (h *ProvidersHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	all := h.providers.All()
	list := models.ProviderList{Items: make([]models.ProviderInfo, 0, len(all))}
	for _, p := range all {
		list.Items = append(list.Items, models.ProviderInfo{
			ID:             p.ID,
			Name:           p.Name,
			StatusPageURL:  p.StatusPageURL,
			ResponseFormat: string(p.Format),
			Active:         p.Active,
		})
	}
	response.JSON(w, r, http.StatusOK, list)
}

// CurrentStatus handles GET /v1/status - latest status of each active provider.
// Providers never probed are reported unknown. The overall status is the
// worst known status.
func (h *ProvidersHandler) CurrentStatus(w http.ResponseWriter, r *http.Request) {
	active := h.providers.Active()
	overview := models.StatusOverview{
		Status: string(status.Unknown),
		Time:   models.Timestamp(h.now()),
		Items:  make([]models.StatusEntry, 0, len(active)),
	}

	worst := -1
	for _, p := range active {
		latest, err := h.history.Latest(r.Context(), p.ID)
		if err != nil {
			h.logger.Error().Err(err).Str("provider_id", p.ID).Msg("failed to read latest status")
			response.InternalError(w, r, "failed to read status")
			return
		}

		entry := models.StatusEntry{ProviderID: p.ID, ProviderName: p.Name, Status: string(status.Unknown)}
		if latest != nil {
			entry = statusEntry(*latest)
			entry.ProviderName = p.Name
			if rank := latest.Status.Rank(); rank > worst {
				worst = rank
				overview.Status = string(latest.Status)
			}
		}
		overview.Items = append(overview.Items, entry)
	}

	response.JSON(w, r, http.StatusOK, overview)
}

// ProviderHistory handles GET /v1/providers/{providerId}/history - recent
// results, newest first. ?limit= defaults to 50, capped at 500.
func (h *ProvidersHandler) ProviderHistory(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerId")
	if _, ok := h.providers.Get(providerID); !ok {
		response.NotFound(w, r, "provider not found")
		return
	}

	limit, ok := parseLimit(w, r, defaultHistoryLimit, maxHistoryLimit)
	if !ok {
		return
	}

	results, err := h.history.Recent(r.Context(), providerID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("provider_id", providerID).Msg("failed to read status history")
		response.InternalError(w, r, "failed to read status history")
		return
	}

	history := models.StatusHistory{
		ProviderID: providerID,
		Items:      make([]models.StatusEntry, 0, len(results)),
		Meta:       models.PagedResponseMeta{Limit: limit, Count: len(results)},
	}
	for _, res := range results {
		history.Items = append(history.Items, statusEntry(res))
	}
	response.JSON(w, r, http.StatusOK, history)
}

func statusEntry(res status.Result) models.StatusEntry {
	checkedAt := res.CheckedAt
	return models.StatusEntry{
		ProviderID:     res.ProviderID,
		ProviderName:   res.ProviderName,
		Status:         string(res.Status),
		ResponseTimeMs: res.ResponseTimeMs,
		CheckedAt:      models.TimestampPtr(&checkedAt),
		Error:          res.Error,
	}
}

// parseLimit reads ?limit=. It writes a 400 and returns false when the value
// is not a positive integer; values above max are clamped.
func parseLimit(w http.ResponseWriter, r *http.Request, def, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		response.BadRequest(w, r, "invalid limit", []models.FieldError{
			{Field: "limit", Message: "limit must be a positive integer", Code: models.CodeInvalid},
		})
		return 0, false
	}
	if limit > max {
		limit = max
	}
	return limit, true
}
