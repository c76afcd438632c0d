package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/watch-rewards/internal/common"
)

func newClock() *common.ManualClock {
	return &common.ManualClock{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestMemoryLimiter_AllowsUpToLimit(t *testing.T) {
	clock := newClock()
	l := NewMemoryLimiter(clock, 0)
	defer l.Close()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, "u1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "попытка %d", i)
		assert.Equal(t, i, res.Count)
	}

	res, err := l.Allow(ctx, "u1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.FirstRejection(3))

	res, err = l.Allow(ctx, "u1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.False(t, res.FirstRejection(3))

	res, err = l.Allow(ctx, "u2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "ключи независимы")
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	clock := newClock()
	l := NewMemoryLimiter(clock, 0)
	defer l.Close()
	ctx := context.Background()

	_, _ = l.Allow(ctx, "u1", 2, time.Minute)
	clock.Advance(40 * time.Second)
	_, _ = l.Allow(ctx, "u1", 2, time.Minute)

	res, _ := l.Allow(ctx, "u1", 2, time.Minute)
	assert.False(t, res.Allowed)

	clock.Advance(21 * time.Second)
	res, _ = l.Allow(ctx, "u1", 2, time.Minute)
	assert.False(t, res.Allowed, "отклонённая попытка тоже занимает окно")

	clock.Advance(2 * time.Minute)
	res, _ = l.Allow(ctx, "u1", 2, time.Minute)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Count)
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	clock := newClock()
	l := NewMemoryLimiter(clock, 0)
	defer l.Close()

	_, _ = l.Allow(context.Background(), "u1", 5, time.Minute)
	clock.Advance(2 * time.Minute)
	l.cleanup()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.attempts)
}
