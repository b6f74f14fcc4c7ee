package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aistatus/aistatus/internal/app"
	"github.com/aistatus/aistatus/internal/config"
	"github.com/aistatus/aistatus/internal/docstore"
	"github.com/aistatus/aistatus/internal/incident"
	"github.com/aistatus/aistatus/internal/provider"
	"github.com/aistatus/aistatus/internal/scaling"
	"github.com/aistatus/aistatus/internal/status"
	"github.com/aistatus/aistatus/internal/subscription"
	"github.com/aistatus/aistatus/internal/worker"
)

type fixedProber map[string]status.Status

func (p fixedProber) Probe(_ context.Context, prov provider.Provider) status.Result {
	return status.Result{ProviderID: prov.ID, ProviderName: prov.Name, Status: p[prov.ID], CheckedAt: time.Now().UTC()}
}

func testConfig() *config.Config {
	return &config.Config{
		Env:            config.EnvDevelopment,
		PublicBaseURL:  "https://status.example.com",
		LinkSigningKey: "link-key",
		Pools:          scaling.DefaultPools(),
		Policy:         scaling.DefaultPolicy(),
		Notify:         config.NotifyConfig{MaxAttempts: 3},
	}
}

func TestNew_DefaultProviders(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(), zerolog.Nop(), app.Options{
		Store:  docstore.NewMemoryStore(),
		Prober: fixedProber{},
	})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, len(provider.Defaults()), a.Providers.Len())
	_, ok := a.Providers.Get("openai")
	assert.True(t, ok)
}

func TestNew_InvalidProviders(t *testing.T) {
	cfg := testConfig()
	cfg.Providers = []provider.Provider{
		{ID: "a", Name: "A", StatusURL: "https://a.example.com", Format: provider.FormatStatuspage},
		{ID: "a", Name: "A", StatusURL: "https://a.example.com", Format: provider.FormatStatuspage},
	}

	_, err := app.New(context.Background(), cfg, zerolog.Nop(), app.Options{Store: docstore.NewMemoryStore()})

	assert.ErrorIs(t, err, provider.ErrDuplicateID)
}

func TestNew_OpensConfiguredStore(t *testing.T) {
	cfg := testConfig()
	cfg.Store = config.StoreConfig{Driver: "memory"}

	a, err := app.New(context.Background(), cfg, zerolog.Nop(), app.Options{Prober: fixedProber{}})
	require.NoError(t, err)
	assert.NoError(t, a.Close())
}

// A confirmed subscriber is notified through the wired queue when a sweep
// opens an incident.
func TestApp_SweepNotifiesSubscribers(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Providers = []provider.Provider{
		{ID: "openai", Name: "OpenAI", StatusURL: "https://status.openai.com/api/v2/status.json", Format: provider.FormatStatuspage, Active: true},
	}
	prober := fixedProber{"openai": status.Operational}

	a, err := app.New(ctx, cfg, zerolog.Nop(), app.Options{Store: docstore.NewMemoryStore(), Prober: prober})
	require.NoError(t, err)
	defer a.Close()

	sub, err := a.Subscriptions.Subscribe(ctx, subscription.SubscribeInput{
		Email:     "ada@example.com",
		Providers: []string{"openai"},
	})
	require.NoError(t, err)
	_, err = a.Subscriptions.Confirm(ctx, sub.ConfirmationToken)
	require.NoError(t, err)

	_, err = a.Monitor.Sweep(ctx)
	require.NoError(t, err)
	prober["openai"] = status.Down
	result, err := a.Monitor.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.IncidentsCreated)

	open, err := a.Incidents.List(ctx, incident.ListOptions{ProviderID: "openai", OnlyOpen: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, open, 1)

	stats, err := a.Dispatcher.Stats(ctx)
	require.NoError(t, err)
	assert.Positive(t, stats.Pending+stats.Sent)

	summary, err := a.Monitor.Drain(ctx, "test")
	require.NoError(t, err)
	assert.Zero(t, summary.Failed)
}

func TestApp_JobRunner(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(), zerolog.Nop(), app.Options{
		Store:  docstore.NewMemoryStore(),
		Prober: fixedProber{},
	})
	require.NoError(t, err)
	defer a.Close()

	runner := a.JobRunner()
	assert.NoError(t, runner.Run(context.Background(), worker.JobMessage{JobType: worker.JobHousekeeping}))
	assert.ErrorIs(t, runner.Run(context.Background(), worker.JobMessage{JobType: "bogus"}), worker.ErrUnknownJob)
}
