package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aistatus/aistatus/internal/api/response"
	"github.com/aistatus/aistatus/internal/notify"
	"github.com/aistatus/aistatus/internal/worker"
)

// Sweeper runs probe sweeps. *worker.Monitor satisfies it.
type Sweeper interface {
	Sweep(ctx context.Context) (*worker.SweepResult, error)
}

// QueueDrainer drains the notification queue. *worker.Monitor satisfies it.
type QueueDrainer interface {
	Drain(ctx context.Context, identity string) (notify.DrainSummary, error)
}

// HousekeepingRunner prunes old data. *worker.Housekeeper satisfies it.
type HousekeepingRunner interface {
	Run(ctx context.Context) (*worker.HousekeepingResult, error)
}

// cronIdentity keys the drain limiter for scheduler-triggered drains.
const cronIdentity = "cron"

// CronHandler handles the scheduler trigger endpoints.
type CronHandler struct {
	sweeper     Sweeper
	drainer     QueueDrainer
	housekeeper HousekeepingRunner
	logger      zerolog.Logger
}

// NewCronHandler creates a new CronHandler.
func NewCronHandler(sweeper Sweeper, drainer QueueDrainer, housekeeper HousekeepingRunner, logger zerolog.Logger) *CronHandler {
	return &CronHandler{
		sweeper:     sweeper,
		drainer:     drainer,
		housekeeper: housekeeper,
		logger:      logger,
	}
}

// Sweep handles GET /v1/cron/sweep - probe every active provider once.
func (h *CronHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		if errors.Is(err, worker.ErrSweepInProgress) {
			response.Conflict(w, r, "a sweep is already running")
			return
		}
		h.logger.Error().Err(err).Msg("probe sweep failed")
		response.InternalError(w, r, "probe sweep failed")
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

// Drain handles GET /v1/cron/drain - send one batch of queued notifications.
func (h *CronHandler) Drain(w http.ResponseWriter, r *http.Request) {
	summary, err := h.drainer.Drain(r.Context(), cronIdentity)
	if err != nil {
		if response.Limited(w, r, err) {
			return
		}
		if errors.Is(err, notify.ErrDrainInProgress) {
			response.Conflict(w, r, "a drain is already running")
			return
		}
		h.logger.Error().Err(err).Msg("notification drain failed")
		response.InternalError(w, r, "notification drain failed")
		return
	}
	response.JSON(w, r, http.StatusOK, summary)
}

// Housekeeping handles GET /v1/cron/housekeeping - prune expired data.
func (h *CronHandler) Housekeeping(w http.ResponseWriter, r *http.Request) {
	result, err := h.housekeeper.Run(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("housekeeping failed")
		response.InternalError(w, r, "housekeeping failed")
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}
