package middleware

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/thiran-symposium/gateway-api/internal/config"
	"github.com/thiran-symposium/gateway-api/internal/metrics"
	apperrors "github.com/thiran-symposium/gateway-api/pkg/errors"
)

// Token bucket, refilled from the redis server clock so replicas agree.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local tokens = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local bucket = redis.call("HMGET", key, "tokens", "last_refill")
local current_tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or 0

local now = redis.call("TIME")
local now_ms = now[1] * 1000 + math.floor(now[2] / 1000)

if last_refill > 0 then
    local elapsed = now_ms - last_refill
    local tokens_to_add = math.floor(elapsed / interval_ms * tokens)
    current_tokens = math.min(capacity, current_tokens + tokens_to_add)
end

local allowed = 0
if current_tokens >= requested then
    current_tokens = current_tokens - requested
    allowed = 1
end

redis.call("HMSET", key, "tokens", current_tokens, "last_refill", now_ms)
redis.call("EXPIRE", key, 3600)

return {allowed, current_tokens, capacity}`)

// RateLimitMiddleware limits submissions per client IP.
type RateLimitMiddleware struct {
	config      *config.RateLimitConfig
	redisClient redis.UniversalClient
	logger      logrus.FieldLogger
}

func NewRateLimitMiddleware(cfg *config.RateLimitConfig, redisClient redis.UniversalClient, logger logrus.FieldLogger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Handle rate limiting middleware
func (r *RateLimitMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !r.config.Enabled || r.redisClient == nil {
			return c.Next()
		}

		path := c.Path()
		for _, exemptPath := range r.config.ExemptPaths {
			if exemptPath != "" && strings.HasPrefix(path, exemptPath) {
				return c.Next()
			}
		}

		key := r.generateKey(c)

		allowed, remaining, resetTime, err := r.checkRateLimit(c.UserContext(), key)
		if err != nil {
			r.logger.WithError(err).Error("Rate limit check failed")
			// Allow request on Redis failure to avoid blocking traffic
			return c.Next()
		}

		r.setRateLimitHeaders(c, remaining, resetTime)

		if !allowed {
			metrics.RecordRateLimitDrop("ip")
			r.logger.WithFields(logrus.Fields{
				"key":       key,
				"path":      path,
				"method":    c.Method(),
				"remaining": remaining,
			}).Warn("Rate limit exceeded")

			return WriteError(c, apperrors.NewAppError(apperrors.CodeRateLimited, "Rate limit exceeded. Please try again later.", nil))
		}

		return c.Next()
	}
}

func (r *RateLimitMiddleware) generateKey(c *fiber.Ctx) string {
	return fmt.Sprintf("ratelimit:ip:%s", ClientIP(c))
}

// ClientIP prefers the load balancer's forwarding headers over the socket address.
func ClientIP(c *fiber.Ctx) string {
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if ip := strings.TrimSpace(ips[0]); ip != "" {
			return ip
		}
	}

	if realIP := c.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	return c.IP()
}

func (r *RateLimitMiddleware) checkRateLimit(ctx context.Context, key string) (allowed bool, remaining int, resetTime time.Time, err error) {
	capacity := r.config.Burst
	tokensPerWindow := r.config.RPS
	intervalMs := int(r.config.WindowSize.Milliseconds())
	if intervalMs <= 0 {
		intervalMs = 1000
	}

	start := time.Now()
	result, err := tokenBucketScript.Run(ctx, r.redisClient, []string{key}, capacity, tokensPerWindow, intervalMs, 1).Result()
	metrics.RecordRedisOperation("ratelimit", redisStatus(err), time.Since(start))
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("failed to execute rate limit script: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("unexpected script result format")
	}

	allowedInt, ok := resultSlice[0].(int64)
	if !ok {
		return false, 0, time.Time{}, fmt.Errorf("failed to parse allowed result")
	}

	remainingInt, ok := resultSlice[1].(int64)
	if !ok {
		return false, 0, time.Time{}, fmt.Errorf("failed to parse remaining result")
	}

	resetTime = time.Now().Add(r.config.WindowSize).Truncate(time.Second)

	return allowedInt == 1, int(remainingInt), resetTime, nil
}

func (r *RateLimitMiddleware) setRateLimitHeaders(c *fiber.Ctx, remaining int, resetTime time.Time) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(r.config.Burst))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
	c.Set("X-RateLimit-Window", r.config.WindowSize.String())

	if remaining <= 0 {
		retryAfter := int(time.Until(resetTime).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Set("Retry-After", strconv.Itoa(retryAfter))
	}
}
