package featureflags_test

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
	"github.com/aistatus/aistatus/internal/featureflags"
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

// flakyRepository wraps a repository and fails reads while down is set.
type flakyRepository struct {
	featureflags.Repository
	down  bool
	reads int
}

var errStoreDown = errors.New("store unavailable")

func (r *flakyRepository) GetFlag(ctx context.Context, key string) (*featureflags.Flag, error) {
	r.reads++
	if r.down {
		return nil, errStoreDown
	}
	return r.Repository.GetFlag(ctx, key)
}

func (r *flakyRepository) GetAllFlags(ctx context.Context) (map[string]*featureflags.Flag, error) {
	if r.down {
		return nil, errStoreDown
	}
	return r.Repository.GetAllFlags(ctx)
}

func newService(t *testing.T) (*featureflags.Service, *flakyRepository, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	repo := &flakyRepository{Repository: featureflags.NewRepository(docstore.NewMemoryStore())}
	svc := featureflags.NewService(featureflags.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
		CacheTTL:   time.Minute,
		Now:        c.Now,
	})
	return svc, repo, c
}

func TestService_Defaults(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	for _, def := range featureflags.Definitions() {
		flag := svc.GetFlag(ctx, def.Key)
		require.NotNil(t, flag, def.Key)
		assert.Equal(t, def.Default, flag.Value, def.Key)
	}
	assert.False(t, svc.IsDebugInjectionEnabled(ctx))
	assert.Zero(t, svc.MaxDrainBatch(ctx))
	assert.Nil(t, svc.GetFlag(ctx, "dark_mode"))
}

func TestService_SetFlag(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetFlag(ctx, &featureflags.Flag{
		Key:    featureflags.FlagPauseProbing,
		Value:  true,
		Reason: "provider rate limiting our probes",
	}))

	assert.True(t, svc.IsEnabled(ctx, featureflags.FlagPauseProbing))

	stored, err := repo.Repository.GetFlag(ctx, featureflags.FlagPauseProbing)
	require.NoError(t, err)
	assert.Equal(t, true, stored.Value)
	assert.Equal(t, "provider rate limiting our probes", stored.Reason)
}

func TestService_SetFlags_ValidatesAll(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()

	err := svc.SetFlags(ctx, []*featureflags.Flag{
		{Key: featureflags.FlagDisableSending, Value: true},
		{Key: featureflags.FlagMaxDrainBatch, Value: "ten"},
	})

	assert.ErrorIs(t, err, featureflags.ErrInvalidFlag)
	_, err = repo.Repository.GetFlag(ctx, featureflags.FlagDisableSending)
	assert.ErrorIs(t, err, featureflags.ErrFlagNotFound, "nothing is stored when one update is invalid")
}

func TestService_IntValuesFromCode(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetFlag(ctx, &featureflags.Flag{Key: featureflags.FlagMaxDrainBatch, Value: 40}))

	assert.Equal(t, 40, svc.MaxDrainBatch(ctx))
}

func TestService_CachesReads(t *testing.T) {
	svc, repo, c := newService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.IsEnabled(ctx, featureflags.FlagDisableSending)
	}
	assert.Equal(t, 1, repo.reads, "a missing override is cached too")

	c.Advance(2 * time.Minute)
	svc.IsEnabled(ctx, featureflags.FlagDisableSending)
	assert.Equal(t, 2, repo.reads)
}

func TestService_StoreOutageKeepsLastValue(t *testing.T) {
	svc, repo, c := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetFlag(ctx, &featureflags.Flag{Key: featureflags.FlagDisableSending, Value: true}))

	repo.down = true
	c.Advance(10 * time.Minute)

	assert.True(t, svc.IsEnabled(ctx, featureflags.FlagDisableSending), "an expired entry still beats the default")
	assert.False(t, svc.IsEnabled(ctx, featureflags.FlagPauseProbing), "never read falls back to the default")

	all := svc.GetAllFlags(ctx)
	assert.Equal(t, true, all[featureflags.FlagDisableSending].Value)
	assert.Len(t, all, len(featureflags.Definitions()))
}

func TestService_InvalidateCache(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()

	assert.False(t, svc.IsEnabled(ctx, featureflags.FlagPauseProbing))

	// Written behind the service's back, e.g. by another instance.
	require.NoError(t, repo.Repository.SetFlag(ctx, &featureflags.Flag{Key: featureflags.FlagPauseProbing, Value: true}))
	assert.False(t, svc.IsEnabled(ctx, featureflags.FlagPauseProbing), "cached until invalidated")

	svc.InvalidateCache()
	assert.True(t, svc.IsEnabled(ctx, featureflags.FlagPauseProbing))
}

func TestService_GetAllFlags(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetFlag(ctx, &featureflags.Flag{Key: featureflags.FlagDebugInjection, Value: true}))

	all := svc.GetAllFlags(ctx)

	assert.Len(t, all, len(featureflags.Definitions()))
	assert.Equal(t, true, all[featureflags.FlagDebugInjection].Value)
	assert.Equal(t, false, all[featureflags.FlagPauseProbing].Value)
}

func TestFlagUpdate_Validate(t *testing.T) {
	tests := []struct {
		name    string
		update  featureflags.FlagUpdate
		wantErr bool
	}{
		{name: "bool", update: featureflags.FlagUpdate{Key: featureflags.FlagPauseProbing, Value: true}},
		{name: "int", update: featureflags.FlagUpdate{Key: featureflags.FlagMaxDrainBatch, Value: float64(50)}},
		{name: "int zero", update: featureflags.FlagUpdate{Key: featureflags.FlagMaxDrainBatch, Value: float64(0)}},
		{name: "unknown key", update: featureflags.FlagUpdate{Key: "dark_mode", Value: true}, wantErr: true},
		{name: "bool as string", update: featureflags.FlagUpdate{Key: featureflags.FlagPauseProbing, Value: "true"}, wantErr: true},
		{name: "negative int", update: featureflags.FlagUpdate{Key: featureflags.FlagMaxDrainBatch, Value: float64(-1)}, wantErr: true},
		{name: "fractional int", update: featureflags.FlagUpdate{Key: featureflags.FlagMaxDrainBatch, Value: 1.5}, wantErr: true},
		{name: "int over max", update: featureflags.FlagUpdate{Key: featureflags.FlagMaxDrainBatch, Value: float64(5000)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.update.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, featureflags.ErrInvalidFlag)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFlag_ValueHelpers(t *testing.T) {
	var missing *featureflags.Flag
	assert.True(t, missing.BoolValue(true))
	assert.Equal(t, 7, missing.IntValue(7))

	assert.True(t, (&featureflags.Flag{Value: true}).BoolValue(false))
	assert.True(t, (&featureflags.Flag{Value: float64(1)}).BoolValue(false))
	assert.False(t, (&featureflags.Flag{Value: "on"}).BoolValue(false))

	assert.Equal(t, 12, (&featureflags.Flag{Value: float64(12)}).IntValue(0))
	assert.Equal(t, 12, (&featureflags.Flag{Value: 12}).IntValue(0))
	assert.Equal(t, 3, (&featureflags.Flag{Value: "12"}).IntValue(3))
}

func TestDocumentRepository(t *testing.T) {
	repo := featureflags.NewRepository(docstore.NewMemoryStore())
	ctx := context.Background()

	_, err := repo.GetFlag(ctx, featureflags.FlagPauseProbing)
	assert.ErrorIs(t, err, featureflags.ErrFlagNotFound)

	require.NoError(t, repo.SetFlags(ctx, []*featureflags.Flag{
		{Key: featureflags.FlagMaxDrainBatch, Value: 10},
		{Key: featureflags.FlagPauseProbing, Value: true},
	}))

	flags, err := repo.GetAllFlags(ctx)
	require.NoError(t, err)
	require.Len(t, flags, 2)
	// Values come back through JSON, so numbers are float64.
	assert.Equal(t, float64(10), flags[featureflags.FlagMaxDrainBatch].Value)
	assert.True(t, flags[featureflags.FlagPauseProbing].BoolValue(false))

	require.NoError(t, repo.DeleteFlag(ctx, featureflags.FlagPauseProbing))
	_, err = repo.GetFlag(ctx, featureflags.FlagPauseProbing)
	assert.ErrorIs(t, err, featureflags.ErrFlagNotFound)
	assert.ErrorIs(t, repo.DeleteFlag(ctx, "missing"), featureflags.ErrFlagNotFound)
}
