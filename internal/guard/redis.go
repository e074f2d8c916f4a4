package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

const keyPrefix = "llmwebchat"

// RedisConfig wires a RedisGuard.
type RedisConfig struct {
	Client      *redis.Client
	LockTTL     time.Duration
	RatePerHour int
	Logger      zerolog.Logger
}

// RedisGuard shares turn locks and rate counters across server instances.
type RedisGuard struct {
	redis   *redis.Client
	lockTTL time.Duration
	limit   int64
	logger  zerolog.Logger
	now     func() time.Time
}

var _ Guard = (*RedisGuard)(nil)

func NewRedis(cfg RedisConfig) *RedisGuard {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisGuard{
		redis:   cfg.Client,
		lockTTL: ttl,
		limit:   int64(cfg.RatePerHour),
		logger:  cfg.Logger.With().Str("component", "turn_guard").Logger(),
		now:     time.Now,
	}
}

func (g *RedisGuard) Acquire(ctx context.Context, chatID string) (func(), error) {
	lockKey := fmt.Sprintf("%s:turn:%s", keyPrefix, chatID)
	token := uuid.NewString()

	ok, err := g.redis.SetNX(ctx, lockKey, token, g.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("turn lock setnx: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// The turn context may already be cancelled; the lock must still go.
			if err := releaseScript.Run(context.Background(), g.redis, []string{lockKey}, token).Err(); err != nil {
				g.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to release turn lock")
			}
		})
	}

	if g.limit > 0 {
		allowed, used, err := g.allow(ctx, chatID)
		if err != nil {
			release()
			return nil, err
		}
		if !allowed {
			release()
			g.logger.Info().Str("chat_id", chatID).Int64("used", used).Msg("turn rate limit exceeded")
			return nil, fmt.Errorf("%w: %d turns per hour", ErrRateLimited, g.limit)
		}
	}

	return release, nil
}

func (g *RedisGuard) allow(ctx context.Context, chatID string) (bool, int64, error) {
	now := g.now().UTC()
	start, window := hourWindow(now)
	ttl := int64(start.Add(time.Hour).Sub(now).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("%s:ratelimit:%s:%s", keyPrefix, chatID, window)
	used, err := incrWithTTLScript.Run(ctx, g.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}
	return used <= g.limit, used, nil
}
