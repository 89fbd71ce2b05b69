package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rryowa/finance-auth/internal/models"
)

const rateLimitKeyPrefix = "ratelimit:"

// KEYS[1] bucket hash
// ARGV[1] capacity, ARGV[2] refill window ms, ARGV[3] now ms
// returns {allowed, tokens_left, wait_ms}
const takeTokenScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now_ms
end

if now_ms > ts then
  tokens = math.min(capacity, tokens + (now_ms - ts) * capacity / window_ms)
  ts = now_ms
end
if tokens > capacity then
  tokens = capacity
end

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait_ms = math.ceil((1 - tokens) * window_ms / capacity)
end

redis.call("HSET", key, "tokens", tostring(tokens), "ts", tostring(ts))
redis.call("PEXPIRE", key, window_ms)

return {allowed, tostring(tokens), wait_ms}
`

var takeTokenLua = redis.NewScript(takeTokenScript)

// RateLimitStore keeps token buckets in Redis hashes. The key expires after
// one refill window of inactivity, which is when the bucket would be full.
type RateLimitStore struct {
	client redis.UniversalClient
}

func NewRateLimitStore(client redis.UniversalClient) *RateLimitStore {
	return &RateLimitStore{client: client}
}

func (s *RateLimitStore) Take(ctx context.Context, key string, capacity int, window time.Duration, now time.Time) (models.RateLimitDecision, error) {
	decision := models.RateLimitDecision{Limit: capacity}

	res, err := takeTokenLua.Run(
		ctx,
		s.client,
		[]string{rateLimitKeyPrefix + key},
		capacity,
		window.Milliseconds(),
		now.UnixMilli(),
	).Slice()
	if err != nil {
		return decision, fmt.Errorf("take token: %w", err)
	}
	allowed, tokens, waitMs, err := parseTakeReply(res)
	if err != nil {
		return decision, fmt.Errorf("take token: %w", err)
	}

	if allowed == 1 {
		decision.Allowed = true
		decision.Remaining = int64(tokens)
		return decision, nil
	}
	decision.RetryAfter = time.Duration(waitMs) * time.Millisecond
	return decision, nil
}

// parseTakeReply decodes {allowed, tokens_left, wait_ms} from the script.
func parseTakeReply(res []interface{}) (int64, float64, int64, error) {
	if len(res) != 3 {
		return 0, 0, 0, fmt.Errorf("unexpected reply %v", res)
	}
	allowed, ok := res[0].(int64)
	if !ok {
		return 0, 0, 0, fmt.Errorf("unexpected allowed flag %T", res[0])
	}
	left, ok := res[1].(string)
	if !ok {
		return 0, 0, 0, fmt.Errorf("unexpected tokens value %T", res[1])
	}
	waitMs, ok := res[2].(int64)
	if !ok {
		return 0, 0, 0, fmt.Errorf("unexpected wait value %T", res[2])
	}
	tokens, err := strconv.ParseFloat(left, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse tokens: %w", err)
	}
	return allowed, tokens, waitMs, nil
}
