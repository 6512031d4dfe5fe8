// Package ratelimit implements rate limiting for the TCP game protocol using
// Redis or local memory as the backing store.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/trackmania-bingo/bingoserver/internal/v1/config"
	"github.com/trackmania-bingo/bingoserver/internal/v1/logging"
	"github.com/trackmania-bingo/bingoserver/internal/v1/metrics"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter holds the three limiter scopes described in the concurrency
// model: per-IP connection attempts, per-account authenticated requests, and
// per-room mutation rate. All three are checked strictly before a request is
// admitted to a room handler, never while holding a room lock.
type RateLimiter struct {
	connectIP *limiter.Limiter
	account   *limiter.Limiter
	room      *limiter.Limiter
	store     limiter.Store
}

// NewRateLimiter creates a new RateLimiter instance. When redisClient is nil,
// limiter state falls back to an in-memory store (single-instance only).
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	connectIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitConnectIP)
	if err != nil {
		return nil, fmt.Errorf("invalid connect-IP rate: %w", err)
	}

	accountRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAccount)
	if err != nil {
		return nil, fmt.Errorf("invalid account rate: %w", err)
	}

	roomRate, err := limiter.NewRateFromFormatted(cfg.RateLimitRoom)
	if err != nil {
		return nil, fmt.Errorf("invalid room rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "bingo:limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (Redis disabled)")
	}

	return &RateLimiter{
		connectIP: limiter.New(store, connectIPRate),
		account:   limiter.New(store, accountRate),
		room:      limiter.New(store, roomRate),
		store:     store,
	}, nil
}

// CheckConnect enforces the per-IP connect-rate limit, applied before the
// accept loop hands a connection off to the handshake gate.
func (rl *RateLimiter) CheckConnect(ctx context.Context, ip string) error {
	return rl.check(ctx, rl.connectIP, ip, "connect_ip")
}

// CheckAccount enforces the per-account authenticated-request limit.
func (rl *RateLimiter) CheckAccount(ctx context.Context, playerID string) error {
	return rl.check(ctx, rl.account, playerID, "account")
}

// CheckRoom enforces the per-room mutation-rate limit.
func (rl *RateLimiter) CheckRoom(ctx context.Context, roomID string) error {
	return rl.check(ctx, rl.room, roomID, "room")
}

func (rl *RateLimiter) check(ctx context.Context, l *limiter.Limiter, key, scope string) error {
	lc, err := l.Get(ctx, key)
	if err != nil {
		// Fail open: an unreachable limiter store should degrade availability,
		// not block every connection.
		logging.Error(ctx, "rate limiter store failed", zap.String("scope", scope), zap.Error(err))
		return nil
	}

	metrics.RateLimitRequests.WithLabelValues(scope).Inc()

	if lc.Reached {
		metrics.RateLimitExceeded.WithLabelValues(scope).Inc()
		return fmt.Errorf("rate limit exceeded for scope %s", scope)
	}

	return nil
}
