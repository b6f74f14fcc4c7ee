package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aistatus/aistatus/internal/featureflags"
	"github.com/aistatus/aistatus/internal/incident"
	"github.com/aistatus/aistatus/internal/notify"
	"github.com/aistatus/aistatus/internal/provider"
	"github.com/aistatus/aistatus/internal/scaling"
	"github.com/aistatus/aistatus/internal/status"
)

// Errors returned by the monitor.
var (
	// ErrUnknownProvider is returned by Inject for ids not in the registry.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrSweepInProgress is returned by Sweep while another sweep runs.
	ErrSweepInProgress = errors.New("probe sweep already running")
)

// Prober checks one provider. *probe.Prober satisfies it.
type Prober interface {
	Probe(ctx context.Context, prov provider.Provider) status.Result
}

// TransitionHandler applies status transitions. *incident.Manager satisfies it.
type TransitionHandler interface {
	HandleTransition(ctx context.Context, providerID string, previous, current status.Status) (*incident.Outcome, error)
}

// Drainer sends queued notifications and reports the status change events
// it dropped without enqueueing. *notify.Dispatcher satisfies it.
type Drainer interface {
	Drain(ctx context.Context, identity string) (notify.DrainSummary, error)
	DroppedEvents() int64
}

// Scaler sizes and observes worker pools. *scaling.Controller satisfies it.
type Scaler interface {
	Workers(pool string) int
	Observe(pool string, obs scaling.Observation)
	Autoscale(pool string) (scaling.Direction, error)
}

// FlagSource evaluates feature flags. *featureflags.Service satisfies it.
type FlagSource interface {
	IsEnabled(ctx context.Context, key string) bool
}

// MonitorConfig holds configuration for creating a Monitor.
type MonitorConfig struct {
	Providers *provider.Registry
	Prober    Prober
	History   status.HistoryRepository
	Incidents TransitionHandler
	Drainer   Drainer

	// Optional.
	Scaler Scaler
	Flags  FlagSource

	Logger zerolog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Monitor runs probe sweeps and notification drains.
type Monitor struct {
	providers *provider.Registry
	prober    Prober
	history   status.HistoryRepository
	incidents TransitionHandler
	drainer   Drainer
	scaler    Scaler
	flags     FlagSource
	logger    zerolog.Logger
	now       func() time.Time

	// sweeping admits one sweep at a time per process, so two sweeps never
	// read the same previous status for a provider.
	sweeping sync.Mutex

	metrics *MonitorMetrics
}

// MonitorMetrics tracks job statistics.
type MonitorMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalSweeps      int64
	ProvidersChecked int64
	UnknownResults   int64
	IncidentsCreated int64
	IncidentsClosed  int64
	TotalDrains      int64
	NotificationsOut int64
	SkippedChecks    int64

	// Timings
	LastSweepAt       time.Time
	LastSweepDuration time.Duration
	LastDrainAt       time.Time
}

// NewMonitor creates a monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		providers: cfg.Providers,
		prober:    cfg.Prober,
		history:   cfg.History,
		incidents: cfg.Incidents,
		drainer:   cfg.Drainer,
		scaler:    cfg.Scaler,
		flags:     cfg.Flags,
		logger:    cfg.Logger,
		now:       now,
		metrics:   &MonitorMetrics{},
	}
}

// SweepResult summarizes one probe sweep.
type SweepResult struct {
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"-"`

	// Paused is set when probing is disabled by feature flag.
	Paused bool `json:"paused,omitempty"`

	Checked     int `json:"checked"`
	Skipped     int `json:"skipped,omitempty"`
	Operational int `json:"operational"`
	Degraded    int `json:"degraded"`
	Down        int `json:"down"`
	Unknown     int `json:"unknown"`

	IncidentsCreated  int `json:"incidentsCreated"`
	IncidentsUpdated  int `json:"incidentsUpdated"`
	IncidentsResolved int `json:"incidentsResolved"`

	Results []status.Result `json:"results"`
	Errors  []SweepError    `json:"errors,omitempty"`
}

// SweepError is a storage failure while handling one provider. Probe
// failures are not errors; they are unknown results.
type SweepError struct {
	ProviderID string `json:"providerId"`
	Error      string `json:"error"`
}

type providerResult struct {
	result  status.Result
	outcome *incident.Outcome
	errors  []SweepError
	skipped bool
}

// Sweep probes every active provider concurrently, records each result and
// hands every status change to the incident manager. Concurrency follows the
// probe pool size. Providers not yet started when ctx is done are reported
// as skipped. Only one sweep runs at a time; a concurrent call returns
// ErrSweepInProgress.
func (m *Monitor) Sweep(ctx context.Context) (*SweepResult, error) {
	if !m.sweeping.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer m.sweeping.Unlock()

	startTime := m.now()
	result := &SweepResult{StartTime: startTime}

	if m.flags != nil && m.flags.IsEnabled(ctx, featureflags.FlagPauseProbing) {
		m.logger.Warn().Msg("probe sweep skipped, probing paused by feature flag")
		result.Paused = true
		result.EndTime = startTime
		return result, nil
	}

	providers := m.providers.Active()
	poolSize := m.workers(scaling.PoolProbe)
	concurrency := poolSize
	if concurrency > len(providers) {
		concurrency = len(providers)
	}

	m.logger.Info().
		Int("providers", len(providers)).
		Int("concurrency", concurrency).
		Msg("starting probe sweep")

	// Create work channels
	providerChan := make(chan provider.Provider, len(providers))
	resultsChan := make(chan providerResult, len(providers))

	// Start workers
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.sweepWorker(ctx, providerChan, resultsChan)
		}()
	}

	for _, p := range providers {
		providerChan <- p
	}
	close(providerChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	// Collect results
	var totalResponse time.Duration
	for pr := range resultsChan {
		result.Results = append(result.Results, pr.result)
		if pr.skipped {
			result.Skipped++
			continue
		}
		result.Checked++
		result.Errors = append(result.Errors, pr.errors...)
		totalResponse += time.Duration(pr.result.ResponseTimeMs) * time.Millisecond

		switch pr.result.Status {
		case status.Operational:
			result.Operational++
		case status.Degraded:
			result.Degraded++
		case status.Down:
			result.Down++
		default:
			result.Unknown++
		}

		if pr.outcome != nil {
			switch pr.outcome.Action {
			case incident.ActionCreated:
				result.IncidentsCreated++
			case incident.ActionUpdated:
				result.IncidentsUpdated++
			case incident.ActionResolved:
				result.IncidentsResolved++
			}
		}
	}

	result.EndTime = m.now()
	result.Duration = result.EndTime.Sub(startTime)

	// The backlog is what had to wait for a free worker, or what was never
	// started if that is more. A pool that covers every provider reports none.
	backlog := len(providers) - poolSize
	if backlog < result.Skipped {
		backlog = result.Skipped
	}
	if backlog < 0 {
		backlog = 0
	}
	obs := scaling.Observation{
		QueueLength: backlog,
		Processed:   result.Checked - result.Unknown,
		Failed:      result.Unknown,
		Duration:    result.Duration,
	}
	if result.Checked > 0 {
		obs.AvgResponseTime = totalResponse / time.Duration(result.Checked)
	}
	m.observe(scaling.PoolProbe, obs)
	m.updateSweepMetrics(result)

	m.logger.Info().
		Dur("duration", result.Duration).
		Int("checked", result.Checked).
		Int("skipped", result.Skipped).
		Int("operational", result.Operational).
		Int("degraded", result.Degraded).
		Int("down", result.Down).
		Int("unknown", result.Unknown).
		Int("incidents_created", result.IncidentsCreated).
		Int("incidents_resolved", result.IncidentsResolved).
		Int("errors", len(result.Errors)).
		Msg("probe sweep completed")

	return result, nil
}

func (m *Monitor) sweepWorker(ctx context.Context, providers <-chan provider.Provider, results chan<- providerResult) {
	for prov := range providers {
		select {
		case <-ctx.Done():
			results <- providerResult{skipped: true, result: status.Result{
				ProviderID:   prov.ID,
				ProviderName: prov.Name,
				Status:       status.Unknown,
				CheckedAt:    m.now().UTC(),
				Error:        "sweep cancelled",
			}}
		default:
			results <- m.checkProvider(ctx, prov)
		}
	}
}

// checkProvider reads the previous status before appending the new result,
// so a sweep never compares a result with itself.
func (m *Monitor) checkProvider(ctx context.Context, prov provider.Provider) providerResult {
	var pr providerResult

	previous, err := m.previousStatus(ctx, prov.ID)
	if err != nil {
		pr.errors = append(pr.errors, SweepError{ProviderID: prov.ID, Error: err.Error()})
	}

	pr.result = m.prober.Probe(ctx, prov)

	if err := m.history.Append(ctx, pr.result); err != nil {
		m.logger.Error().Err(err).Str("provider_id", prov.ID).Msg("failed to record probe result")
		pr.errors = append(pr.errors, SweepError{ProviderID: prov.ID, Error: err.Error()})
	}

	outcome, err := m.incidents.HandleTransition(ctx, prov.ID, previous, pr.result.Status)
	if err != nil {
		m.logger.Error().Err(err).Str("provider_id", prov.ID).Msg("failed to handle status transition")
		pr.errors = append(pr.errors, SweepError{ProviderID: prov.ID, Error: err.Error()})
		return pr
	}
	pr.outcome = outcome
	return pr
}

// previousStatus returns the provider's last known status. Unknown results
// are skipped so a failed probe between two identical statuses is not a change.
func (m *Monitor) previousStatus(ctx context.Context, providerID string) (status.Status, error) {
	recent, err := m.history.Recent(ctx, providerID, previousLookback)
	if err != nil {
		return status.Unknown, fmt.Errorf("reading history: %w", err)
	}
	for _, r := range recent {
		if r.Status.IsKnown() {
			return r.Status, nil
		}
	}
	return status.Unknown, nil
}

// Drain sends one batch of queued notifications and feeds the outcome to
// the dispatch pool.
func (m *Monitor) Drain(ctx context.Context, identity string) (notify.DrainSummary, error) {
	summary, err := m.drainer.Drain(ctx, identity)
	if err != nil {
		return summary, err
	}

	if !summary.Disabled {
		m.observe(scaling.PoolDispatch, scaling.Observation{
			QueueLength:     summary.Remaining,
			Processed:       summary.Sent,
			Failed:          summary.Retrying + summary.Failed,
			Duration:        summary.Duration,
			AvgResponseTime: summary.AvgSendTime,
		})
	}

	m.metrics.mu.Lock()
	m.metrics.TotalDrains++
	m.metrics.NotificationsOut += int64(summary.Sent)
	m.metrics.LastDrainAt = m.now()
	m.metrics.mu.Unlock()

	return summary, nil
}

// InjectResult is the outcome of an injected transition.
type InjectResult struct {
	ProviderID string             `json:"providerId"`
	Previous   status.Status      `json:"previousStatus"`
	Current    status.Status      `json:"currentStatus"`
	Action     incident.Action    `json:"action"`
	Incident   *incident.Incident `json:"incident,omitempty"`
}

// Inject runs a synthetic transition through the incident manager and the
// notification pipeline without probing. An empty previous status defaults
// to the provider's last known status.
func (m *Monitor) Inject(ctx context.Context, providerID string, current, previous status.Status) (*InjectResult, error) {
	if _, ok := m.providers.Get(providerID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	if previous == "" {
		var err error
		if previous, err = m.previousStatus(ctx, providerID); err != nil {
			return nil, err
		}
	}

	outcome, err := m.incidents.HandleTransition(ctx, providerID, previous, current)
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("provider_id", providerID).
		Str("previous", string(previous)).
		Str("current", string(current)).
		Str("action", string(outcome.Action)).
		Msg("debug transition injected")

	return &InjectResult{
		ProviderID: providerID,
		Previous:   previous,
		Current:    current,
		Action:     outcome.Action,
		Incident:   outcome.Incident,
	}, nil
}

func (m *Monitor) workers(pool string) int {
	if m.scaler == nil {
		return 1
	}
	if n := m.scaler.Workers(pool); n > 0 {
		return n
	}
	return 1
}

func (m *Monitor) observe(pool string, obs scaling.Observation) {
	if m.scaler == nil {
		return
	}
	m.scaler.Observe(pool, obs)

	dir, err := m.scaler.Autoscale(pool)
	switch {
	case errors.Is(err, scaling.ErrCooldown), errors.Is(err, scaling.ErrAtMaximum), errors.Is(err, scaling.ErrAtMinimum):
		m.logger.Debug().Err(err).Str("pool", pool).Msg("autoscale skipped")
	case err != nil:
		m.logger.Warn().Err(err).Str("pool", pool).Msg("autoscale failed")
	case dir != "":
		m.logger.Info().Str("pool", pool).Str("direction", string(dir)).Int("workers", m.scaler.Workers(pool)).Msg("pool scaled")
	}
}

func (m *Monitor) updateSweepMetrics(result *SweepResult) {
	m.metrics.mu.Lock()
	defer m.metrics.mu.Unlock()

	m.metrics.TotalSweeps++
	m.metrics.ProvidersChecked += int64(result.Checked)
	m.metrics.UnknownResults += int64(result.Unknown)
	m.metrics.SkippedChecks += int64(result.Skipped)
	m.metrics.IncidentsCreated += int64(result.IncidentsCreated)
	m.metrics.IncidentsClosed += int64(result.IncidentsResolved)
	m.metrics.LastSweepAt = result.EndTime
	m.metrics.LastSweepDuration = result.Duration
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (m *Monitor) MetricsSnapshot() map[string]interface{} {
	dropped := m.drainer.DroppedEvents()

	m.metrics.mu.RLock()
	defer m.metrics.mu.RUnlock()

	return map[string]interface{}{
		"total_sweeps":          m.metrics.TotalSweeps,
		"providers_checked":     m.metrics.ProvidersChecked,
		"providers_skipped":     m.metrics.SkippedChecks,
		"unknown_results":       m.metrics.UnknownResults,
		"incidents_created":     m.metrics.IncidentsCreated,
		"incidents_resolved":    m.metrics.IncidentsClosed,
		"total_drains":          m.metrics.TotalDrains,
		"notifications_sent":    m.metrics.NotificationsOut,
		"notifications_dropped": dropped,
		"last_sweep_at":         m.metrics.LastSweepAt,
		"last_sweep_duration":   m.metrics.LastSweepDuration.String(),
		"last_drain_at":         m.metrics.LastDrainAt,
	}
}
