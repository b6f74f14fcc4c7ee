// Package handler provides HTTP handlers for the status API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aistatus/aistatus/internal/api/models"
	"github.com/aistatus/aistatus/internal/api/response"
	"github.com/aistatus/aistatus/internal/featureflags"
	"github.com/aistatus/aistatus/internal/notify"
	"github.com/aistatus/aistatus/internal/provider/resilience"
	"github.com/aistatus/aistatus/internal/scaling"
)

// QueueStatter reports notification queue counts. *notify.Dispatcher satisfies it.
type QueueStatter interface {
	Stats(ctx context.Context) (notify.QueueStats, error)
}

// PoolReporter reports worker pool state. *scaling.Controller satisfies it.
type PoolReporter interface {
	Health() []scaling.PoolState
}

// MetricsReporter exposes job counters. *worker.Monitor satisfies it.
type MetricsReporter interface {
	MetricsSnapshot() map[string]interface{}
}

// FlagReader evaluates feature flags. *featureflags.Service satisfies it.
type FlagReader interface {
	IsEnabled(ctx context.Context, key string) bool
}

// degradationFlags switch off part of the pipeline when enabled.
var degradationFlags = []string{
	featureflags.FlagPauseProbing,
	featureflags.FlagDisableSending,
}

// OpsConfig holds the dependencies of the ops endpoints. Everything but the
// version strings is optional.
type OpsConfig struct {
	Version   string
	BuildTime string
	Queue     QueueStatter
	Pools     PoolReporter
	Breakers  *resilience.Registry
	Monitor   MetricsReporter
	Flags     FlagReader
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
	now func() time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{cfg: cfg, now: time.Now}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]interface{}{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check. The service
// is ready once the document store answers a queue count.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Queue != nil {
		if _, err := h.cfg.Queue.Stats(r.Context()); err != nil {
			response.ServiceUnavailable(w, r, "document store unavailable")
			return
		}
	}
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - subsystem, breaker, pool and
// queue status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overall := models.HealthStatusOK
	degrade := func(s models.HealthStatus) {
		if s == models.HealthStatusFail || (s == models.HealthStatusDegraded && overall == models.HealthStatusOK) {
			overall = s
		}
	}

	result := models.SystemStatus{
		Time:       models.Timestamp(h.now()),
		Subsystems: []models.SubsystemStatus{},
		Providers:  []models.ProviderStatus{},
		Pools:      []models.WorkerPoolStatus{},
	}

	if h.cfg.Queue != nil {
		store := models.SubsystemStatus{Name: "docstore", Status: models.HealthStatusOK}
		stats, err := h.cfg.Queue.Stats(ctx)
		if err != nil {
			detail := "queue stats unavailable"
			store.Status = models.HealthStatusFail
			store.Detail = &detail
		} else {
			result.Queue = &models.QueueStatus{Pending: stats.Pending, Sent: stats.Sent, Failed: stats.Failed}
		}
		degrade(store.Status)
		result.Subsystems = append(result.Subsystems, store)
	}

	if h.cfg.Breakers != nil {
		for _, health := range h.cfg.Breakers.All() {
			ps := models.ProviderStatus{
				Provider:      health.Name,
				Status:        breakerStatus(health),
				CircuitState:  health.State,
				LastSuccessAt: models.TimestampPtr(health.LastSuccessAt),
				LastFailureAt: models.TimestampPtr(health.LastFailureAt),
			}
			if health.LastError != "" {
				msg := health.LastError
				ps.Message = &msg
			}
			if ps.Status != models.HealthStatusOK {
				degrade(models.HealthStatusDegraded)
			}
			result.Providers = append(result.Providers, ps)
		}
	}

	if h.cfg.Pools != nil {
		for _, p := range h.cfg.Pools.Health() {
			result.Pools = append(result.Pools, models.WorkerPoolStatus{
				Name:              p.Name,
				MinWorkers:        p.MinWorkers,
				MaxWorkers:        p.MaxWorkers,
				TotalWorkers:      p.TotalWorkers,
				HealthyWorkers:    p.HealthyWorkers,
				QueueLength:       p.QueueLength,
				Throughput:        p.Throughput,
				ErrorRate:         p.ErrorRate,
				AvgResponseTimeMs: p.AvgResponseTimeMs,
				LastScalingAction: p.LastScalingAction,
				LastScalingAt:     models.TimestampPtr(p.LastScalingAt),
			})
		}
	}

	if h.cfg.Monitor != nil {
		result.Monitor = h.cfg.Monitor.MetricsSnapshot()
	}

	if h.cfg.Flags != nil {
		for _, key := range degradationFlags {
			if h.cfg.Flags.IsEnabled(ctx, key) {
				result.ActiveDegradationFlags = append(result.ActiveDegradationFlags, key)
				degrade(models.HealthStatusDegraded)
			}
		}
	}

	result.Status = overall
	response.JSON(w, r, http.StatusOK, result)
}

func breakerStatus(h *resilience.Health) models.HealthStatus {
	switch {
	case h.IsUnhealthy():
		return models.HealthStatusFail
	case h.IsDegraded():
		return models.HealthStatusDegraded
	}
	return models.HealthStatusOK
}
