package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, rules map[string]Rule) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewLimiter(client, rules), mr
}

func TestLimiter_AllowsUpToMaxThenLimits(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string]Rule{
		ActionLogin: {MaxAttempts: 3, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.NoError(t, limiter.Allow(ctx, ActionLogin, "a@x.com"), "attempt %d should pass", i+1)
	}

	assert.ErrorIs(t, limiter.Allow(ctx, ActionLogin, "a@x.com"), ErrRateLimited)
	// still limited: being limited must not extend or reset the window
	assert.ErrorIs(t, limiter.Allow(ctx, ActionLogin, "a@x.com"), ErrRateLimited)
}

func TestLimiter_WindowElapses(t *testing.T) {
	limiter, mr := newTestLimiter(t, map[string]Rule{
		ActionLogin: {MaxAttempts: 2, Window: time.Minute},
	})
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, ActionLogin, "a@x.com"))
	require.NoError(t, limiter.Allow(ctx, ActionLogin, "a@x.com"))
	require.ErrorIs(t, limiter.Allow(ctx, ActionLogin, "a@x.com"), ErrRateLimited)

	mr.FastForward(61 * time.Second)

	assert.NoError(t, limiter.Allow(ctx, ActionLogin, "a@x.com"))
}

func TestLimiter_IdentifiersAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string]Rule{
		ActionLogin: {MaxAttempts: 1, Window: time.Minute},
	})
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, ActionLogin, "a@x.com"))
	require.ErrorIs(t, limiter.Allow(ctx, ActionLogin, "a@x.com"), ErrRateLimited)

	assert.NoError(t, limiter.Allow(ctx, ActionLogin, "b@x.com"))
}

func TestLimiter_UnconfiguredActionFailsOpen(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string]Rule{})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		assert.NoError(t, limiter.Allow(ctx, "unknown_action", "a@x.com"))
	}
}

func TestLimiter_Reset(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string]Rule{
		ActionLogin: {MaxAttempts: 1, Window: time.Minute},
	})
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, ActionLogin, "a@x.com"))
	require.ErrorIs(t, limiter.Allow(ctx, ActionLogin, "a@x.com"), ErrRateLimited)

	require.NoError(t, limiter.Reset(ctx, ActionLogin, "a@x.com"))

	assert.NoError(t, limiter.Allow(ctx, ActionLogin, "a@x.com"))
}
