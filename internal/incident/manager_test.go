package incident_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aistatus/aistatus/internal/docstore"
	"github.com/aistatus/aistatus/internal/incident"
	"github.com/aistatus/aistatus/internal/provider"
	"github.com/aistatus/aistatus/internal/status"
)

type recordingNotifier struct {
	mu          sync.Mutex
	transitions []incident.Transition
	err         error
}

func (n *recordingNotifier) NotifyTransition(_ context.Context, t incident.Transition) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transitions = append(n.transitions, t)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transitions)
}

type fixture struct {
	manager  *incident.Manager
	repo     *incident.DocumentRepository
	notifier *recordingNotifier
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry, err := provider.NewRegistry([]provider.Provider{
		{ID: "openai", Name: "OpenAI", StatusURL: "https://status.openai.com/api/v2/status.json", Format: provider.FormatStatuspage, Active: true},
		{ID: "anthropic", Name: "Anthropic", StatusURL: "https://status.anthropic.com/api/v2/status.json", Format: provider.FormatStatuspage, Active: true},
	})
	require.NoError(t, err)

	f := &fixture{
		repo:     incident.NewRepository(docstore.NewMemoryStore()),
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	f.manager = incident.NewManager(incident.ManagerConfig{
		Repository: f.repo,
		Providers:  registry,
		Notifier:   f.notifier,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) assertAtMostOneOpen(t *testing.T, providerID string) {
	t.Helper()
	open, err := f.repo.List(context.Background(), incident.ListOptions{ProviderID: providerID, OnlyOpen: true})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(open), 1)
}

var allStatuses = []status.Status{status.Operational, status.Degraded, status.Down, status.Unknown}

func TestHandleTransition_CreatesOnlyOnQualifyingPairs(t *testing.T) {
	qualifying := map[[2]status.Status]incident.Severity{
		{status.Operational, status.Down}:     incident.SeverityCritical,
		{status.Degraded, status.Down}:        incident.SeverityHigh,
		{status.Operational, status.Degraded}: incident.SeverityMedium,
	}

	for _, prev := range allStatuses {
		for _, cur := range allStatuses {
			t.Run(string(prev)+"->"+string(cur), func(t *testing.T) {
				f := newFixture(t)

				outcome, err := f.manager.HandleTransition(context.Background(), "openai", prev, cur)
				require.NoError(t, err)

				wantSeverity, wantCreate := qualifying[[2]status.Status{prev, cur}]
				assert.Equal(t, wantCreate, incident.IsQualifying(prev, cur))
				if !wantCreate {
					assert.Equal(t, incident.ActionNone, outcome.Action)
					all, err := f.repo.List(context.Background(), incident.ListOptions{})
					require.NoError(t, err)
					assert.Empty(t, all)
					return
				}

				assert.Equal(t, incident.ActionCreated, outcome.Action)
				require.NotNil(t, outcome.Incident)
				assert.Equal(t, wantSeverity, outcome.Incident.Severity)
				assert.Equal(t, incident.StateInvestigating, outcome.Incident.Status)
				require.Len(t, outcome.Incident.Updates, 1)
				assert.Equal(t, "Status changed from "+string(prev)+" to "+string(cur), outcome.Incident.Updates[0].Message)
			})
		}
	}
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, incident.SeverityCritical, incident.SeverityFor(status.Operational, status.Down))
	assert.Equal(t, incident.SeverityHigh, incident.SeverityFor(status.Degraded, status.Down))
	assert.Equal(t, incident.SeverityMedium, incident.SeverityFor(status.Operational, status.Degraded))
	assert.Equal(t, incident.SeverityLow, incident.SeverityFor(status.Down, status.Degraded))
	assert.Equal(t, incident.SeverityLow, incident.SeverityFor(status.Unknown, status.Down))
}

func TestHandleTransition_OutageScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// operational -> down opens one critical incident.
	outcome, err := f.manager.HandleTransition(ctx, "openai", status.Operational, status.Down)
	require.NoError(t, err)
	require.Equal(t, incident.ActionCreated, outcome.Action)
	assert.Equal(t, incident.SeverityCritical, outcome.Incident.Severity)
	assert.Len(t, outcome.Incident.Updates, 1)
	assert.Equal(t, 1, f.notifier.count())
	incidentID := outcome.Incident.ID

	// down -> down is a no-op.
	f.now = f.now.Add(10 * time.Minute)
	outcome, err = f.manager.HandleTransition(ctx, "openai", status.Down, status.Down)
	require.NoError(t, err)
	assert.Equal(t, incident.ActionNone, outcome.Action)
	assert.Equal(t, 1, f.notifier.count())

	stored, err := f.manager.Get(ctx, incidentID)
	require.NoError(t, err)
	assert.Len(t, stored.Updates, 1)

	// down -> operational resolves it.
	f.now = f.now.Add(95*time.Minute + 30*time.Second)
	outcome, err = f.manager.HandleTransition(ctx, "openai", status.Down, status.Operational)
	require.NoError(t, err)
	require.Equal(t, incident.ActionResolved, outcome.Action)
	assert.Equal(t, incidentID, outcome.Incident.ID)
	assert.Equal(t, incident.StateResolved, outcome.Incident.Status)
	require.NotNil(t, outcome.Incident.EndTime)
	require.NotNil(t, outcome.Incident.DurationMinutes)
	assert.Equal(t, 105, *outcome.Incident.DurationMinutes)
	require.Len(t, outcome.Incident.Updates, 2)
	assert.Equal(t, incident.SystemAuthor, outcome.Incident.Updates[1].Author)
	assert.Equal(t, incident.StateResolved, outcome.Incident.Updates[1].Status)
	assert.Equal(t, 2, f.notifier.count())

	open, err := f.manager.Open(ctx, "openai")
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestHandleTransition_EscalatesOpenIncident(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.manager.HandleTransition(ctx, "openai", status.Operational, status.Degraded)
	require.NoError(t, err)
	require.Equal(t, incident.SeverityMedium, created.Incident.Severity)

	escalated, err := f.manager.HandleTransition(ctx, "openai", status.Degraded, status.Down)
	require.NoError(t, err)
	assert.Equal(t, incident.ActionUpdated, escalated.Action)
	assert.Equal(t, created.Incident.ID, escalated.Incident.ID)
	assert.Equal(t, incident.SeverityHigh, escalated.Incident.Severity)
	assert.Equal(t, incident.StateIdentified, escalated.Incident.Status)
	assert.Len(t, escalated.Incident.Updates, 2)

	improving, err := f.manager.HandleTransition(ctx, "openai", status.Down, status.Degraded)
	require.NoError(t, err)
	assert.Equal(t, incident.ActionUpdated, improving.Action)
	assert.Equal(t, incident.StateMonitoring, improving.Incident.Status)
	assert.Equal(t, incident.SeverityHigh, improving.Incident.Severity, "severity never decreases")

	f.assertAtMostOneOpen(t, "openai")
}

func TestHandleTransition_QualifyingWithOpenIncidentDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.manager.HandleTransition(ctx, "openai", status.Operational, status.Down)
	require.NoError(t, err)

	// Replaying the same qualifying pair while the incident is open.
	replay, err := f.manager.HandleTransition(ctx, "openai", status.Operational, status.Down)
	require.NoError(t, err)
	assert.Equal(t, incident.ActionNone, replay.Action)
	assert.Equal(t, 1, f.notifier.count())

	stored, err := f.manager.Get(ctx, first.Incident.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Updates, 1)
	assert.Equal(t, incident.StateInvestigating, stored.Status)
	assert.Equal(t, status.Down, stored.LastStatus)

	f.assertAtMostOneOpen(t, "openai")
}

func TestHandleTransition_ReplayedPairsAfterEscalation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	steps := []struct {
		previous, current status.Status
		action            incident.Action
		updates           int
		notified          int
	}{
		{status.Operational, status.Degraded, incident.ActionCreated, 1, 1},
		{status.Operational, status.Degraded, incident.ActionNone, 1, 1},
		{status.Degraded, status.Down, incident.ActionUpdated, 2, 2},
		{status.Degraded, status.Down, incident.ActionNone, 2, 2},
		{status.Operational, status.Down, incident.ActionNone, 2, 2},
		{status.Down, status.Degraded, incident.ActionUpdated, 3, 3},
		{status.Down, status.Operational, incident.ActionResolved, 4, 4},
		{status.Down, status.Operational, incident.ActionNone, 4, 4},
		{status.Degraded, status.Operational, incident.ActionNone, 4, 4},
	}

	var incidentID string
	for i, step := range steps {
		outcome, err := f.manager.HandleTransition(ctx, "openai", step.previous, step.current)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.action, outcome.Action, "step %d", i)
		if outcome.Incident != nil {
			incidentID = outcome.Incident.ID
		}

		stored, err := f.manager.Get(ctx, incidentID)
		require.NoError(t, err, "step %d", i)
		assert.Len(t, stored.Updates, step.updates, "step %d", i)
		assert.Equal(t, step.notified, f.notifier.count(), "step %d", i)
		f.now = f.now.Add(time.Minute)
	}

	// A fresh outage after the resolution opens a new incident.
	outcome, err := f.manager.HandleTransition(ctx, "openai", status.Operational, status.Down)
	require.NoError(t, err)
	assert.Equal(t, incident.ActionCreated, outcome.Action)
	assert.NotEqual(t, incidentID, outcome.Incident.ID)
}

func TestHandleTransition_OperationalAfterManualResolveNotifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.manager.HandleTransition(ctx, "openai", status.Operational, status.Down)
	require.NoError(t, err)
	_, err = f.manager.AddManualUpdate(ctx, created.Incident.ID, incident.StateResolved, "Closed by operator", "ops")
	require.NoError(t, err)

	outcome, err := f.manager.HandleTransition(ctx, "openai", status.Down, status.Operational)
	require.NoError(t, err)
	assert.Equal(t, incident.ActionNone, outcome.Action)
	assert.Equal(t, 2, f.notifier.count())
}

func TestHandleTransition_UnknownCurrentIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.manager.HandleTransition(ctx, "openai", status.Operational, status.Down)
	require.NoError(t, err)

	outcome, err := f.manager.HandleTransition(ctx, "openai", status.Down, status.Unknown)
	require.NoError(t, err)
	assert.Equal(t, incident.ActionNone, outcome.Action)
	assert.Equal(t, 1, f.notifier.count())

	open, err := f.manager.Open(ctx, "openai")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Len(t, open.Updates, 1)
}

func TestHandleTransition_UnknownProvider(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.manager.HandleTransition(context.Background(), "nope", status.Operational, status.Down)
	require.NoError(t, err)
	assert.Equal(t, incident.ActionNone, outcome.Action)
	assert.Equal(t, 0, f.notifier.count())
}

func TestHandleTransition_NotifierErrorDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("queue unavailable")

	outcome, err := f.manager.HandleTransition(context.Background(), "openai", status.Operational, status.Down)
	require.NoError(t, err)
	assert.Equal(t, incident.ActionCreated, outcome.Action)
}

func TestHandleTransition_ChangeWithoutIncidentStillNotifies(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.manager.HandleTransition(context.Background(), "openai", status.Down, status.Degraded)
	require.NoError(t, err)
	assert.Equal(t, incident.ActionNone, outcome.Action)
	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, status.Down, f.notifier.transitions[0].Previous)
	assert.Equal(t, status.Degraded, f.notifier.transitions[0].Current)
}

func TestHandleTransition_ConcurrentSameProvider(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.HandleTransition(ctx, "openai", status.Operational, status.Down)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := f.repo.List(ctx, incident.ListOptions{ProviderID: "openai"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Updates, 1, "replays of the applied pair append nothing")
	assert.Equal(t, 1, f.notifier.count())
}

func TestHandleTransition_RandomSequencesKeepOneOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sequence := []status.Status{
		status.Operational, status.Degraded, status.Down, status.Unknown, status.Down,
		status.Degraded, status.Operational, status.Down, status.Down, status.Operational,
		status.Degraded, status.Degraded, status.Unknown, status.Operational,
	}
	prev := status.Operational
	for _, cur := range sequence {
		_, err := f.manager.HandleTransition(ctx, "openai", prev, cur)
		require.NoError(t, err)
		f.assertAtMostOneOpen(t, "openai")
		f.now = f.now.Add(time.Minute)
		prev = cur
	}

	all, err := f.repo.List(ctx, incident.ListOptions{ProviderID: "openai"})
	require.NoError(t, err)
	for _, inc := range all {
		if inc.Status == incident.StateResolved {
			require.NotNil(t, inc.DurationMinutes)
			assert.GreaterOrEqual(t, *inc.DurationMinutes, 0)
		}
	}
}

func TestAddManualUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.manager.HandleTransition(ctx, "anthropic", status.Operational, status.Degraded)
	require.NoError(t, err)

	_, err = f.manager.AddManualUpdate(ctx, created.Incident.ID, "bogus", "x", "ops")
	assert.ErrorIs(t, err, incident.ErrInvalidState)

	inc, err := f.manager.AddManualUpdate(ctx, created.Incident.ID, incident.StateIdentified, "Upstream DNS issue", "ops")
	require.NoError(t, err)
	assert.Equal(t, incident.StateIdentified, inc.Status)
	assert.Equal(t, "ops", inc.Updates[1].Author)

	f.now = f.now.Add(30 * time.Minute)
	inc, err = f.manager.AddManualUpdate(ctx, created.Incident.ID, incident.StateResolved, "Fixed", "ops")
	require.NoError(t, err)
	assert.Equal(t, incident.StateResolved, inc.Status)
	assert.Equal(t, 30, *inc.DurationMinutes)

	_, err = f.manager.AddManualUpdate(ctx, created.Incident.ID, incident.StateMonitoring, "again", "ops")
	assert.ErrorIs(t, err, incident.ErrAlreadyResolved)

	_, err = f.manager.AddManualUpdate(ctx, "missing", incident.StateMonitoring, "x", "ops")
	assert.ErrorIs(t, err, incident.ErrIncidentNotFound)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.manager.HandleTransition(ctx, "openai", status.Operational, status.Down)
	require.NoError(t, err)
	_, err = f.manager.HandleTransition(ctx, "openai", status.Down, status.Operational)
	require.NoError(t, err)
	_, err = f.manager.HandleTransition(ctx, "anthropic", status.Operational, status.Degraded)
	require.NoError(t, err)

	all, err := f.manager.List(ctx, incident.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "anthropic", all[0].ProviderID, "newest first")

	open, err := f.manager.List(ctx, incident.ListOptions{OnlyOpen: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "anthropic", open[0].ProviderID)

	limited, err := f.manager.List(ctx, incident.ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
