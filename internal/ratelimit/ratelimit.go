// Package ratelimit throttles search requests per viewer. Redis holds a shared
// sliding window when configured; otherwise, or when Redis fails, an
// in-process token bucket per key applies.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/adledger/internal/config"
	"github.com/kkkkikiki/adledger/internal/observability"
)

const (
	window       = time.Minute
	maxLocalKeys = 10000
)

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Service checks request rates per key
type Service struct {
	redis  *redis.Client
	limit  int
	logger *observability.Logger

	mu    sync.Mutex
	local map[string]*localEntry
}

// NewService creates a limiter allowing limit requests per minute per key.
// A nil redis client uses the local limiter only.
func NewService(client *redis.Client, limit int, logger *observability.Logger) *Service {
	return &Service{
		redis:  client,
		limit:  limit,
		logger: logger,
		local:  make(map[string]*localEntry),
	}
}

// NewRedisClient connects to Redis, or returns nil when it is disabled
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, logger *observability.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		logger.Info(ctx, "Redis is disabled, rate limiting stays in process")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info(ctx, "connected to Redis", observability.Field{Key: "addr", Value: cfg.Addr})
	return client, nil
}

// Allow records a request for key and reports whether it is within the limit
func (s *Service) Allow(ctx context.Context, key string) Result {
	if s.redis != nil {
		res, err := s.allowRedis(ctx, key)
		if err == nil {
			return res
		}
		s.logger.WarnWithError(ctx, "Redis rate limit check failed, falling back to local limiter", err,
			observability.Field{Key: "key", Value: key})
	}
	return s.allowLocal(key)
}

// slidingWindow trims, counts and records a request in one atomic step.
// It returns {allowed, count before the request, oldest score in ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local score = now
	if oldest[2] then
		score = tonumber(oldest[2])
	end
	return {0, count, score}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window * 2)
return {1, count, now}
`)

// allowRedis is a sliding window over a sorted set of request timestamps
func (s *Service) allowRedis(ctx context.Context, key string) (Result, error) {
	rkey := "rl:search:" + key
	now := time.Now()
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())

	out, err := slidingWindow.Run(ctx, s.redis, []string{rkey},
		now.UnixMilli(), window.Milliseconds(), s.limit, member).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("failed to run sliding window: %w", err)
	}
	if len(out) != 3 {
		return Result{}, fmt.Errorf("sliding window returned %d values", len(out))
	}
	allowed, count, oldest := out[0] == 1, int(out[1]), out[2]

	if !allowed {
		retryAfter := time.UnixMilli(oldest).Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Result{Allowed: false, Limit: s.limit, RetryAfter: retryAfter}, nil
	}
	return Result{Allowed: true, Limit: s.limit, Remaining: s.limit - count - 1}, nil
}

func (s *Service) allowLocal(key string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.local[key]
	if !ok {
		if len(s.local) >= maxLocalKeys {
			s.pruneLocked(now)
		}
		e = &localEntry{limiter: rate.NewLimiter(rate.Every(window/time.Duration(s.limit)), s.limit)}
		s.local[key] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Result{Allowed: false, Limit: s.limit, RetryAfter: delay}
	}
	return Result{Allowed: true, Limit: s.limit, Remaining: int(e.limiter.TokensAt(now))}
}

// pruneLocked drops keys idle for a full window. Callers hold s.mu.
func (s *Service) pruneLocked(now time.Time) {
	for k, e := range s.local {
		if now.Sub(e.lastSeen) > window {
			delete(s.local, k)
		}
	}
}
