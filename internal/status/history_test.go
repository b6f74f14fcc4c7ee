package status_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aistatus/aistatus/internal/docstore"
	"github.com/aistatus/aistatus/internal/status"
)

func TestHistory_LatestAndRecent(t *testing.T) {
	ctx := context.Background()
	repo := status.NewHistoryRepository(docstore.NewMemoryStore())

	latest, err := repo.Latest(ctx, "openai")
	require.NoError(t, err)
	assert.Nil(t, latest)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, s := range []status.Status{status.Operational, status.Down, status.Degraded} {
		require.NoError(t, repo.Append(ctx, status.Result{
			ProviderID: "openai",
			Status:     s,
			CheckedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Append(ctx, status.Result{ProviderID: "anthropic", Status: status.Operational}))

	latest, err = repo.Latest(ctx, "openai")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, status.Degraded, latest.Status)

	recent, err := repo.Recent(ctx, "openai", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, status.Degraded, recent[0].Status)
	assert.Equal(t, status.Down, recent[1].Status)
}

func TestHistory_PruneOlderThan(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	repo := status.NewHistoryRepository(docstore.NewMemoryStore(docstore.WithClock(func() time.Time { return now })))

	require.NoError(t, repo.Append(ctx, status.Result{ProviderID: "openai", Status: status.Operational}))
	require.NoError(t, repo.Append(ctx, status.Result{ProviderID: "openai", Status: status.Down}))
	now = now.Add(40 * 24 * time.Hour)
	require.NoError(t, repo.Append(ctx, status.Result{ProviderID: "openai", Status: status.Degraded}))

	pruned, err := repo.PruneOlderThan(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)

	recent, err := repo.Recent(ctx, "openai", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, status.Degraded, recent[0].Status)
}
