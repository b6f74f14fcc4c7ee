package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aistatus/aistatus/internal/docstore"
	"github.com/aistatus/aistatus/internal/featureflags"
	"github.com/aistatus/aistatus/internal/incident"
	"github.com/aistatus/aistatus/internal/notify"
	"github.com/aistatus/aistatus/internal/provider"
	"github.com/aistatus/aistatus/internal/scaling"
	"github.com/aistatus/aistatus/internal/status"
	"github.com/aistatus/aistatus/internal/subscription"
	"github.com/aistatus/aistatus/internal/worker"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// scriptedProber returns the next scripted status for each provider and
// repeats the last one once the script runs out. A held provider blocks
// until its context is done.
type scriptedProber struct {
	mu      sync.Mutex
	scripts map[string][]status.Status
	calls   map[string]int
	held    map[string]chan struct{}
	now     func() time.Time
}

func newScriptedProber(now func() time.Time, scripts map[string][]status.Status) *scriptedProber {
	return &scriptedProber{scripts: scripts, calls: make(map[string]int), held: make(map[string]chan struct{}), now: now}
}

// hold makes the provider's next checks block until their context is done.
// The returned channel receives once per blocked check.
func (p *scriptedProber) hold(providerID string) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	entered := make(chan struct{}, 8)
	p.held[providerID] = entered
	return entered
}

func (p *scriptedProber) release(providerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.held, providerID)
}

func (p *scriptedProber) Probe(ctx context.Context, prov provider.Provider) status.Result {
	p.mu.Lock()
	entered, held := p.held[prov.ID]
	p.mu.Unlock()

	if held {
		entered <- struct{}{}
		<-ctx.Done()
		return status.Result{
			ProviderID:   prov.ID,
			ProviderName: prov.Name,
			Status:       status.Unknown,
			CheckedAt:    p.now().UTC(),
			Error:        ctx.Err().Error(),
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	script := p.scripts[prov.ID]
	st := status.Operational
	if n := len(script); n > 0 {
		i := p.calls[prov.ID]
		if i >= n {
			i = n - 1
		}
		st = script[i]
	}
	p.calls[prov.ID]++

	r := status.Result{
		ProviderID:     prov.ID,
		ProviderName:   prov.Name,
		Status:         st,
		ResponseTimeMs: 40,
		CheckedAt:      p.now().UTC(),
	}
	if st == status.Unknown {
		r.Error = "timeout"
	}
	return r
}

type subscribers []*subscription.Subscription

func (s subscribers) ConfirmedFor(_ context.Context, providerID string) ([]*subscription.Subscription, error) {
	var out []*subscription.Subscription
	for _, sub := range s {
		if sub.Follows(providerID) {
			out = append(out, sub)
		}
	}
	return out, nil
}

type recordingSender struct {
	mu       sync.Mutex
	subjects []string
}

func (s *recordingSender) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects = append(s.subjects, msg.Subject)
	return nil
}

type flags map[string]bool

func (f flags) IsEnabled(_ context.Context, key string) bool { return f[key] }

type pipeline struct {
	monitor    *worker.Monitor
	prober     *scriptedProber
	history    *status.DocumentHistoryRepository
	incidents  *incident.Manager
	dispatcher *notify.Dispatcher
	scaler     *scaling.Controller
	sender     *recordingSender
	clock      *clock
	flags      flags
}

func newPipeline(t *testing.T, scripts map[string][]status.Status, opts ...func(*notify.DispatcherConfig)) *pipeline {
	t.Helper()

	c := &clock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	store := docstore.NewMemoryStore(docstore.WithClock(c.Now))

	registry, err := provider.NewRegistry([]provider.Provider{
		{ID: "openai", Name: "OpenAI", StatusURL: "https://status.openai.com/api/v2/status.json", Format: provider.FormatStatuspage, Active: true},
		{ID: "anthropic", Name: "Anthropic", StatusURL: "https://status.anthropic.com/api/v2/status.json", Format: provider.FormatStatuspage, Active: true},
		{ID: "retired", Name: "Retired", StatusURL: "https://status.retired.example/api", Format: provider.FormatStatusField, Active: false},
	})
	require.NoError(t, err)

	scaler, err := scaling.NewController(scaling.Config{
		Pools:  scaling.DefaultPools(),
		Policy: scaling.DefaultPolicy(),
		Logger: zerolog.Nop(),
		Now:    c.Now,
	})
	require.NoError(t, err)

	sender := &recordingSender{}
	senders := notify.NewSenderRegistry()
	senders.Register(notify.ChannelEmail, sender)

	p := &pipeline{
		prober:  newScriptedProber(c.Now, scripts),
		history: status.NewHistoryRepository(store),
		scaler:  scaler,
		sender:  sender,
		clock:   c,
		flags:   flags{},
	}

	dispatcherCfg := notify.DispatcherConfig{
		Repository: notify.NewRepository(store),
		Subscribers: subscribers{
			{Email: "ops@example.com", Providers: []string{"openai"}, Confirmed: true, Active: true},
		},
		Senders:   senders,
		Providers: registry,
		Pool:      scaler,
		Logger:    zerolog.Nop(),
		Now:       c.Now,
	}
	for _, opt := range opts {
		opt(&dispatcherCfg)
	}
	p.dispatcher = notify.NewDispatcher(dispatcherCfg)

	p.incidents = incident.NewManager(incident.ManagerConfig{
		Repository: incident.NewRepository(store),
		Providers:  registry,
		Notifier:   p.dispatcher,
		Logger:     zerolog.Nop(),
		Now:        c.Now,
	})

	p.monitor = worker.NewMonitor(worker.MonitorConfig{
		Providers: registry,
		Prober:    p.prober,
		History:   p.history,
		Incidents: p.incidents,
		Drainer:   p.dispatcher,
		Scaler:    scaler,
		Flags:     p.flags,
		Logger:    zerolog.Nop(),
		Now:       c.Now,
	})
	return p
}

// recorded waits until the provider has n history records.
func (p *pipeline) recorded(t *testing.T, providerID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		recent, err := p.history.Recent(context.Background(), providerID, 10)
		return err == nil && len(recent) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func (p *pipeline) sweep(t *testing.T) *worker.SweepResult {
	t.Helper()
	p.clock.Advance(time.Minute)
	result, err := p.monitor.Sweep(context.Background())
	require.NoError(t, err)
	return result
}

func TestMonitor_OutageLifecycle(t *testing.T) {
	p := newPipeline(t, map[string][]status.Status{
		"openai": {status.Operational, status.Down, status.Down, status.Operational},
	})
	ctx := context.Background()

	first := p.sweep(t)
	assert.Equal(t, 2, first.Checked, "inactive providers are not probed")
	assert.Equal(t, 2, first.Operational)
	assert.Zero(t, first.IncidentsCreated)

	second := p.sweep(t)
	assert.Equal(t, 1, second.Down)
	assert.Equal(t, 1, second.IncidentsCreated)

	open, err := p.incidents.Open(ctx, "openai")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, incident.SeverityCritical, open.Severity)

	third := p.sweep(t)
	assert.Zero(t, third.IncidentsCreated)
	assert.Zero(t, third.IncidentsUpdated)

	p.clock.Advance(44 * time.Minute)
	fourth := p.sweep(t)
	assert.Equal(t, 1, fourth.IncidentsResolved)

	resolved, err := p.incidents.Get(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, incident.StateResolved, resolved.Status)
	require.NotNil(t, resolved.DurationMinutes)
	assert.Equal(t, 46, *resolved.DurationMinutes)

	all, err := p.incidents.List(ctx, incident.ListOptions{ProviderID: "openai"})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	summary, err := p.monitor.Drain(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Sent)
	assert.ElementsMatch(t, []string{
		"[AI Status] OpenAI is down",
		"[AI Status] OpenAI incident resolved",
	}, p.sender.subjects)

	history, err := p.history.Recent(ctx, "openai", 10)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestMonitor_UnknownResultDoesNotCountAsChange(t *testing.T) {
	p := newPipeline(t, map[string][]status.Status{
		"openai": {status.Operational, status.Down, status.Unknown, status.Down},
	})
	ctx := context.Background()

	p.sweep(t)
	p.sweep(t)
	unknown := p.sweep(t)
	assert.Equal(t, 1, unknown.Unknown)
	assert.Zero(t, unknown.IncidentsUpdated)

	again := p.sweep(t)
	assert.Zero(t, again.IncidentsCreated)
	assert.Zero(t, again.IncidentsUpdated)

	open, err := p.incidents.Open(ctx, "openai")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Len(t, open.Updates, 1)

	stats, err := p.dispatcher.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestMonitor_SweepPaused(t *testing.T) {
	p := newPipeline(t, nil)
	p.flags[featureflags.FlagPauseProbing] = true

	result := p.sweep(t)
	assert.True(t, result.Paused)
	assert.Zero(t, result.Checked)

	recent, err := p.history.Recent(context.Background(), "openai", 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func (p *pipeline) sweepPool(t *testing.T) scaling.PoolState {
	t.Helper()
	state, err := p.scaler.Snapshot(scaling.PoolProbe)
	require.NoError(t, err)
	return state
}

func TestMonitor_SweepObservesProbePool(t *testing.T) {
	p := newPipeline(t, map[string][]status.Status{
		"anthropic": {status.Unknown},
	})

	p.sweep(t)

	state := p.sweepPool(t)
	assert.Zero(t, state.QueueLength, "every provider had a worker")
	assert.InDelta(t, 0.5, state.ErrorRate, 1e-9)
	assert.Equal(t, int64(40), state.AvgResponseTimeMs)
}

func TestMonitor_IdlePoolScalesDownToMinimum(t *testing.T) {
	p := newPipeline(t, nil)
	cfg := scaling.DefaultPools()[scaling.PoolProbe]
	require.Greater(t, cfg.InitialWorkers, cfg.MinWorkers)

	for i := 0; i < 10; i++ {
		p.clock.Advance(2 * time.Minute)
		result := p.sweep(t)
		require.Equal(t, 2, result.Checked)
	}

	state := p.sweepPool(t)
	assert.Zero(t, state.QueueLength)
	assert.Equal(t, cfg.MinWorkers, state.TotalWorkers)
	assert.Contains(t, state.LastScalingAction, "down")
}

func TestMonitor_BacklogScalesPoolUp(t *testing.T) {
	p := newPipeline(t, nil)

	var providers []provider.Provider
	for i := 1; i <= 12; i++ {
		providers = append(providers, provider.Provider{
			ID:        fmt.Sprintf("vendor-%02d", i),
			Name:      fmt.Sprintf("Vendor %d", i),
			StatusURL: fmt.Sprintf("https://status.vendor%02d.example/api/v2/status.json", i),
			Format:    provider.FormatStatuspage,
			Active:    true,
		})
	}
	registry, err := provider.NewRegistry(providers)
	require.NoError(t, err)

	scaler, err := scaling.NewController(scaling.Config{
		Pools: map[string]scaling.PoolConfig{
			scaling.PoolProbe: {MinWorkers: 1, MaxWorkers: 4, InitialWorkers: 2, Cooldown: time.Minute},
		},
		Policy: scaling.DefaultPolicy(),
		Logger: zerolog.Nop(),
		Now:    p.clock.Now,
	})
	require.NoError(t, err)

	monitor := worker.NewMonitor(worker.MonitorConfig{
		Providers: registry,
		Prober:    p.prober,
		History:   p.history,
		Incidents: p.incidents,
		Drainer:   p.dispatcher,
		Scaler:    scaler,
		Logger:    zerolog.Nop(),
		Now:       p.clock.Now,
	})

	result, err := monitor.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, result.Checked)

	state, err := scaler.Snapshot(scaling.PoolProbe)
	require.NoError(t, err)
	assert.Equal(t, 10, state.QueueLength, "providers beyond the two workers waited")
	assert.Equal(t, 3, state.TotalWorkers)
}

func TestMonitor_CancelledSweepReportsSkipped(t *testing.T) {
	p := newPipeline(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.monitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Checked)
	assert.Equal(t, 2, result.Skipped)
	assert.Len(t, result.Results, 2)

	assert.Equal(t, 2, p.sweepPool(t).QueueLength)

	recent, err := p.history.Recent(context.Background(), "openai", 10)
	require.NoError(t, err)
	assert.Empty(t, recent, "skipped providers are not recorded")
	assert.Equal(t, int64(2), p.monitor.MetricsSnapshot()["providers_skipped"])
}

func TestMonitor_BlockedProviderDoesNotHoldBackOthers(t *testing.T) {
	p := newPipeline(t, nil)
	entered := p.prober.hold("openai")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan *worker.SweepResult, 1)
	go func() {
		result, err := p.monitor.Sweep(ctx)
		assert.NoError(t, err)
		done <- result
	}()

	// anthropic completes while openai is still blocked.
	<-entered
	p.recorded(t, "anthropic", 1)
	select {
	case <-done:
		t.Fatal("sweep finished while a check was still blocked")
	default:
	}

	cancel()
	var result *worker.SweepResult
	select {
	case result = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not finish after its context was done")
	}

	assert.Equal(t, 2, result.Checked)
	assert.Zero(t, result.Skipped)
	assert.Equal(t, 1, result.Operational)
	assert.Equal(t, 1, result.Unknown)

	byProvider := map[string]status.Result{}
	for _, r := range result.Results {
		byProvider[r.ProviderID] = r
	}
	assert.Equal(t, status.Operational, byProvider["anthropic"].Status)
	assert.Equal(t, status.Unknown, byProvider["openai"].Status)
	assert.Equal(t, context.Canceled.Error(), byProvider["openai"].Error)

	p.recorded(t, "openai", 1)
	assert.Equal(t, int64(2), p.monitor.MetricsSnapshot()["providers_checked"])
}

func TestMonitor_SweepsDoNotOverlap(t *testing.T) {
	p := newPipeline(t, map[string][]status.Status{
		"anthropic": {status.Operational, status.Down},
	})
	entered := p.prober.hold("openai")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan *worker.SweepResult, 1)
	go func() {
		result, err := p.monitor.Sweep(ctx)
		assert.NoError(t, err)
		done <- result
	}()
	<-entered
	p.recorded(t, "anthropic", 1)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.monitor.Sweep(context.Background())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.ErrorIs(t, err, worker.ErrSweepInProgress)
	}

	cancel()
	first := <-done
	assert.Equal(t, 2, first.Checked)

	// The rejected sweeps recorded nothing and applied no transition.
	p.recorded(t, "anthropic", 1)
	open, err := p.incidents.Open(context.Background(), "anthropic")
	require.NoError(t, err)
	assert.Nil(t, open)

	// Once the first sweep is done the next one runs.
	p.prober.release("openai")
	next := p.sweep(t)
	assert.Equal(t, 2, next.Checked)
	assert.Equal(t, 1, next.IncidentsCreated)
	assert.Equal(t, int64(2), p.monitor.MetricsSnapshot()["total_sweeps"])
}

func TestMonitor_DrainObservesDispatchPool(t *testing.T) {
	p := newPipeline(t, map[string][]status.Status{
		"openai": {status.Operational, status.Degraded},
	})
	ctx := context.Background()

	p.sweep(t)
	p.sweep(t)

	summary, err := p.monitor.Drain(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)

	state, err := p.scaler.Snapshot(scaling.PoolDispatch)
	require.NoError(t, err)
	assert.Zero(t, state.QueueLength)

	// An empty queue scales the dispatch pool down by one.
	assert.Equal(t, scaling.DefaultPools()[scaling.PoolDispatch].InitialWorkers-1, state.TotalWorkers)
	assert.Contains(t, state.LastScalingAction, "down")

	snapshot := p.monitor.MetricsSnapshot()
	assert.Equal(t, int64(2), snapshot["total_sweeps"])
	assert.Equal(t, int64(1), snapshot["notifications_sent"])
}

func TestMonitor_Inject(t *testing.T) {
	p := newPipeline(t, nil)
	ctx := context.Background()

	result, err := p.monitor.Inject(ctx, "openai", status.Down, status.Operational)
	require.NoError(t, err)
	assert.Equal(t, incident.ActionCreated, result.Action)
	require.NotNil(t, result.Incident)

	stats, err := p.dispatcher.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)

	// Without a previous status the last known one is used.
	p.sweep(t) // records operational for both providers
	result, err = p.monitor.Inject(ctx, "anthropic", status.Degraded, "")
	require.NoError(t, err)
	assert.Equal(t, status.Operational, result.Previous)
	assert.Equal(t, incident.ActionCreated, result.Action)

	_, err = p.monitor.Inject(ctx, "nope", status.Down, status.Operational)
	assert.ErrorIs(t, err, worker.ErrUnknownProvider)
}

type failingHistory struct {
	status.HistoryRepository
}

func (failingHistory) Append(context.Context, status.Result) error {
	return errors.New("disk full")
}

func TestMonitor_HistoryFailureIsRecorded(t *testing.T) {
	p := newPipeline(t, nil)
	registry, err := provider.NewRegistry([]provider.Provider{
		{ID: "openai", Name: "OpenAI", StatusURL: "https://status.openai.com/api/v2/status.json", Format: provider.FormatStatuspage, Active: true},
	})
	require.NoError(t, err)

	monitor := worker.NewMonitor(worker.MonitorConfig{
		Providers: registry,
		Prober:    p.prober,
		History:   failingHistory{p.history},
		Incidents: p.incidents,
		Drainer:   p.dispatcher,
		Logger:    zerolog.Nop(),
		Now:       p.clock.Now,
	})

	result, err := monitor.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "openai", result.Errors[0].ProviderID)
	assert.Contains(t, result.Errors[0].Error, "disk full")
}
