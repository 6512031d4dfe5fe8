package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trackmania-bingo/bingoserver/internal/v1/config"
)

func testConfig() *config.Config {
	return &config.Config{
		RateLimitConnectIP: "5-M",
		RateLimitAccount:   "5-M",
		RateLimitRoom:      "5-M",
	}
}

func newTestLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	rl, err := NewRateLimiter(testConfig(), rc)
	require.NoError(t, err)

	return rl, mr
}

func TestNewRateLimiter_Memory(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil)
	assert.NoError(t, err)
	assert.NotNil(t, rl)
}

func TestCheckConnect(t *testing.T) {
	rl, mr := newTestLimiter(t)
	defer mr.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		assert.NoError(t, rl.CheckConnect(ctx, "203.0.113.7"))
	}

	assert.Error(t, rl.CheckConnect(ctx, "203.0.113.7"))
}

func TestCheckAccount(t *testing.T) {
	rl, mr := newTestLimiter(t)
	defer mr.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		assert.NoError(t, rl.CheckAccount(ctx, "player-1"))
	}

	assert.Error(t, rl.CheckAccount(ctx, "player-1"))

	// A different account has its own independent budget.
	assert.NoError(t, rl.CheckAccount(ctx, "player-2"))
}

func TestCheckRoom(t *testing.T) {
	rl, mr := newTestLimiter(t)
	defer mr.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		assert.NoError(t, rl.CheckRoom(ctx, "ABCD12"))
	}

	assert.Error(t, rl.CheckRoom(ctx, "ABCD12"))
}

func TestRedisFailure_FailsOpen(t *testing.T) {
	rl, mr := newTestLimiter(t)
	mr.Close()

	// An unreachable store must not block requests; it fails open.
	assert.NoError(t, rl.CheckConnect(context.Background(), "203.0.113.7"))
}
