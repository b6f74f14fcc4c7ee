package ratelimit_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aistatus/aistatus/internal/ratelimit"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newLimiter(limit int, window time.Duration, c *clock) *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{Limit: limit, Window: window, Now: c.Now})
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(3, time.Minute, c)

	for i := 0; i < 3; i++ {
		d := l.Allow("drain:scheduler")
		require.True(t, d.Allowed, "call %d", i)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d := l.Allow("drain:scheduler")
	assert.False(t, d.Allowed)
	assert.Equal(t, 3, d.Limit)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, 61*time.Second)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(1, time.Minute, c)

	assert.True(t, l.Allow("enqueue:openai").Allowed)
	assert.False(t, l.Allow("enqueue:openai").Allowed)
	assert.True(t, l.Allow("enqueue:anthropic").Allowed)
}

func TestLimiter_RetryAfterIsHonest(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(3, time.Minute, c)

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("k").Allowed)
	}
	d := l.Allow("k")
	require.False(t, d.Allowed)

	c.t = c.t.Add(d.RetryAfter)
	assert.True(t, l.Allow("k").Allowed)
}

func TestLimiter_SlidingWindowWeightsPreviousWindow(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 50, 0, time.UTC)}
	l := newLimiter(4, time.Minute, c)

	for i := 0; i < 4; i++ {
		require.True(t, l.Allow("k").Allowed)
	}

	// 15s into the next window the previous 4 calls still weigh 4*45/60 = 3.
	c.t = time.Date(2026, 1, 1, 12, 1, 15, 0, time.UTC)
	assert.True(t, l.Allow("k").Allowed)
	assert.False(t, l.Allow("k").Allowed)

	// Two full windows later everything has decayed.
	c.t = c.t.Add(2 * time.Minute)
	assert.True(t, l.Allow("k").Allowed)
}

func TestLimiter_Check(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(1, 30*time.Second, c)

	require.NoError(t, l.Check("drain:ops"))

	err := l.Check("drain:ops")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ratelimit.ErrLimited))

	var limitErr *ratelimit.LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "drain:ops", limitErr.Key)
	assert.GreaterOrEqual(t, limitErr.RetryAfter, time.Second)
}
