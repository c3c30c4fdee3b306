package bucket

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"proofgate/internal/ratelimit/models"
)

// tokenBucketScript implements refill-and-consume atomically server-side.
// KEYS[1] is the bucket hash; ARGV = cost, burst, refill rate, now (unix
// seconds as float), TTL seconds. Returns {allowed, remaining tokens}.
// Running it as one script is what makes concurrent requests from the same
// client unable to over-consume across service instances.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local cost = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1])
local last_refill = tonumber(bucket[2])

if tokens == nil then
  tokens = burst
  last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
  tokens = math.min(burst, tokens + elapsed * rate)
end

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', key, ttl)

return {allowed, tostring(tokens)}
`)

// RedisBucketStore implements the bucket contract on Redis so limits hold
// across service instances. State per key is a small hash with a TTL sized
// to the full-refill time.
type RedisBucketStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisBucketStore creates a Redis-backed bucket store.
func NewRedisBucketStore(client *redis.Client) *RedisBucketStore {
	return &RedisBucketStore{
		client:    client,
		keyPrefix: "ratelimit:bucket:",
	}
}

// Allow consumes one token from the key's bucket, or rejects the request.
func (s *RedisBucketStore) Allow(ctx context.Context, key string, burst int, refillRate float64) (*models.RateLimitResult, error) {
	return s.AllowN(ctx, key, 1, burst, refillRate)
}

// AllowN consumes cost tokens if available.
func (s *RedisBucketStore) AllowN(ctx context.Context, key string, cost int, burst int, refillRate float64) (*models.RateLimitResult, error) {
	now := time.Now()
	ttl := int(math.Ceil(float64(burst)/math.Max(refillRate, 0.001))) + 60

	res, err := tokenBucketScript.Run(ctx, s.client,
		[]string{s.keyPrefix + key},
		cost, burst, refillRate,
		float64(now.UnixNano())/float64(time.Second),
		ttl,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("redis token bucket: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return nil, fmt.Errorf("redis token bucket: unexpected reply %v", res)
	}
	allowed := values[0].(int64) == 1
	var tokens float64
	if str, ok := values[1].(string); ok {
		tokens, _ = strconv.ParseFloat(str, 64)
	}

	result := &models.RateLimitResult{
		Allowed:   allowed,
		Limit:     burst,
		Remaining: int(tokens),
		ResetAt:   resetTime(now, tokens, burst, refillRate),
	}
	if !allowed {
		result.RetryAfter = retrySeconds(tokens, cost, refillRate)
	}
	return result, nil
}

// Reset clears the bucket for a key, restoring full burst capacity.
func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.keyPrefix+key).Err()
}
