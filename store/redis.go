package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "storeguard:"

// incrementScript bumps the fixed-window counter, starting its expiry on the
// first hit, and appends the request to the sliding-window log.
//
// KEYS[1]: counter key
// KEYS[2]: request log key (sorted set scored by unix millis)
// ARGV[1]: window in milliseconds
// ARGV[2]: current unix millis
// ARGV[3]: unique log member
var incrementScript = redis.NewScript(`
local window = tonumber(ARGV[1])
local now = tonumber(ARGV[2])

local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if count == 1 or ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], window)
	ttl = window
end

redis.call('ZADD', KEYS[2], now, ARGV[3])
redis.call('PEXPIRE', KEYS[2], window)

return {count, ttl}
`)

// decrementScript takes back the latest request without going below zero.
//
// KEYS[1]: counter key
// KEYS[2]: request log key
var decrementScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count > 0 then
	redis.call('DECR', KEYS[1])
end
redis.call('ZPOPMAX', KEYS[2])
return 1
`)

// RedisStore keeps counters in Redis so every instance shares one view
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// Ensure RedisStore implements Store interface
var _ Store = (*RedisStore)(nil)

// RedisConfig for creating a Redis store
type RedisConfig struct {
	Addr     string `yaml:"addr"`     // Redis address (e.g., "localhost:6379")
	Password string `yaml:"password"` // Redis password (empty for no auth)
	DB       int    `yaml:"db"`       // Redis database number
}

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(config RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	return NewRedisStoreFromClient(client)
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		now:    time.Now,
	}
}

func counterKey(key string) string { return redisKeyPrefix + "{" + key + "}:count" }
func logKey(key string) string     { return redisKeyPrefix + "{" + key + "}:log" }

// Increment registers a request and returns the fixed-window counter
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Counter, error) {
	now := s.now()
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + ":" + uuid.NewString()

	vals, err := incrementScript.Run(ctx, s.client,
		[]string{counterKey(key), logKey(key)},
		window.Milliseconds(), nowMs, member,
	).Int64Slice()
	if err != nil {
		return Counter{}, fmt.Errorf("redis increment %s: %w", key, err)
	}
	if len(vals) != 2 {
		return Counter{}, fmt.Errorf("redis increment %s: unexpected reply %v", key, vals)
	}

	return Counter{
		Count:   int(vals[0]),
		ResetAt: now.Add(time.Duration(vals[1]) * time.Millisecond),
	}, nil
}

// SlidingWindow prunes log entries older than the window and counts the rest
func (s *RedisStore) SlidingWindow(ctx context.Context, key string, window time.Duration) (int, error) {
	cutoff := s.now().Add(-window).UnixMilli()
	lk := logKey(key)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, lk, "-inf", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, lk)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis sliding window %s: %w", key, err)
	}
	return int(card.Val()), nil
}

// Decrement takes back the latest request for key
func (s *RedisStore) Decrement(ctx context.Context, key string) error {
	if err := decrementScript.Run(ctx, s.client, []string{counterKey(key), logKey(key)}).Err(); err != nil {
		return fmt.Errorf("redis decrement %s: %w", key, err)
	}
	return nil
}

// Reset removes all state for key
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, counterKey(key), logKey(key)).Err(); err != nil {
		return fmt.Errorf("redis reset %s: %w", key, err)
	}
	return nil
}

// Clear removes every storeguard key from Redis
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Ping checks if Redis connection is alive
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
