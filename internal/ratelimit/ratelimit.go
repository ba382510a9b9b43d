// Package ratelimit implements the fixed-window rate limiter (section 4.8
// of the gateway specification): two independent instances (query,
// connection) keyed by client IP, backed by Redis, failing OPEN when the
// store is unavailable.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/querygate/gateway/internal/mlog"
)

// luaFixedWindow implements the fixed-window check-and-increment
// atomically: KEYS[1] is the counter key, ARGV[1] the window in seconds,
// ARGV[2] the max request count, ARGV[3] the current unix time in
// milliseconds. It returns {allowed, count, resetTimeMillis}.
const luaFixedWindow = `
local key = KEYS[1]
local windowSeconds = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("GET", key)
local count
local resetTime

if data == false then
  count = 0
  resetTime = now + (windowSeconds * 1000)
else
  local sep = string.find(data, ":")
  count = tonumber(string.sub(data, 1, sep - 1))
  resetTime = tonumber(string.sub(data, sep + 1))
end

if now > resetTime then
  count = 0
  resetTime = now + (windowSeconds * 1000)
end

local ttl = resetTime - now
if ttl < 1000 then
  ttl = 1000
end

if count >= max then
  redis.call("SET", key, count .. ":" .. resetTime, "PX", ttl)
  return {0, count, resetTime}
end

count = count + 1
redis.call("SET", key, count .. ":" .. resetTime, "PX", ttl)

return {1, count, resetTime}
`

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetUnix int64 // seconds since epoch
}

// Limiter enforces one fixed-window policy, identified by Prefix, against
// a shared Redis client.
type Limiter struct {
	RedisClient *redis.Client
	Max         int
	Window      time.Duration
	Prefix      string
	Logger      mlog.Logger
}

// Allow evaluates the fixed-window policy for key. On any Redis failure it
// fails open: the request is allowed and the failure is logged, per
// section 4.8.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	fullKey := fmt.Sprintf("%s:%s", l.Prefix, key)
	nowMillis := timeNowMillis()

	res, err := l.RedisClient.Eval(ctx, luaFixedWindow, []string{fullKey},
		int(l.Window.Seconds()), l.Max, nowMillis).Result()
	if err != nil {
		l.Logger.Warnf("rate limiter storage failure, failing open: %v", err)

		return Decision{Allowed: true, Limit: l.Max, Remaining: l.Max, ResetUnix: (nowMillis + l.Window.Milliseconds()) / 1000}
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		l.Logger.Warnf("rate limiter received unexpected script result, failing open")

		return Decision{Allowed: true, Limit: l.Max, Remaining: l.Max, ResetUnix: (nowMillis + l.Window.Milliseconds()) / 1000}
	}

	allowed := toInt64(values[0]) == 1
	count := toInt64(values[1])
	resetMillis := toInt64(values[2])

	remaining := int64(l.Max) - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   allowed,
		Limit:     l.Max,
		Remaining: int(remaining),
		ResetUnix: resetMillis / 1000,
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

// timeNowMillis is a var so tests can override the clock deterministically.
var timeNowMillis = func() int64 {
	return time.Now().UnixMilli()
}

// KeyFromFiberCtx extracts the client IP per section 4.8: x-forwarded-for
// first, x-real-ip second, "unknown" as the fallback.
func KeyFromFiberCtx(c *fiber.Ctx) string {
	if fwd := c.Get("x-forwarded-for"); fwd != "" {
		return firstCommaField(fwd)
	}

	if real := c.Get("x-real-ip"); real != "" {
		return real
	}

	return "unknown"
}

func firstCommaField(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			return trimSpace(s[:i])
		}
	}

	return trimSpace(s)
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}

	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}

	return s[start:end]
}

// Middleware returns a fiber handler enforcing l, decorating the response
// with RateLimit-* headers and Retry-After on denial.
func (l *Limiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := KeyFromFiberCtx(c)

		decision := l.Allow(c.Context(), key)

		c.Set("RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Set("RateLimit-Reset", strconv.FormatInt(decision.ResetUnix, 10))
		c.Set("RateLimit-Policy", fmt.Sprintf("%d;w=%d", decision.Limit, int(l.Window.Seconds())))

		if !decision.Allowed {
			retryAfter := decision.ResetUnix - time.Now().Unix()
			if retryAfter < 0 {
				retryAfter = 0
			}

			c.Set("Retry-After", strconv.FormatInt(retryAfter, 10))

			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}

		return c.Next()
	}
}
