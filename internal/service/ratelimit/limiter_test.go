package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowExhaustsBucket(t *testing.T) {
	now := time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC)
	l := New()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("k", 2, 1))
	assert.True(t, l.Allow("k", 2, 1))
	assert.False(t, l.Allow("k", 2, 1))
	assert.True(t, l.Allow("other", 2, 1), "keys have independent buckets")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("k", 2, 1), "one token refilled after a second")
	assert.False(t, l.Allow("k", 2, 1))
}

func TestWaitEnforcesSpacing(t *testing.T) {
	l := New()
	capacity, rate := Spacing(20 * time.Millisecond)

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Wait(context.Background(), "upstream", capacity, rate))
	}
	// first token is immediate, the next three are spaced
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestWaitHonoursContext(t *testing.T) {
	l := New()
	capacity, rate := Spacing(time.Hour)
	require.NoError(t, l.Wait(context.Background(), "k", capacity, rate))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "k", capacity, rate)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
