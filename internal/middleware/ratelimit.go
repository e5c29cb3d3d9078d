package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/offsetpool/offsetpool/internal/config"
)

// NewSlidingWindow builds the per-API-key rate limiter. Each key gets a
// Redis sorted set of request timestamps; one atomic Lua pass trims entries
// older than the window, counts what is left and either admits the request
// or reports how long until the oldest entry ages out. Degrades to a no-op
// when Redis is absent.
func NewSlidingWindow(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return func(c echo.Context) error { return next(c) } }
	}

	limiterScript := redis.NewScript(`
        local key = KEYS[1]
        local now_ms = tonumber(ARGV[1])
        local window_ms = tonumber(ARGV[2])
        local limit = tonumber(ARGV[3])

        redis.call('ZREMRANGEBYSCORE', key, 0, now_ms - window_ms)
        local count = redis.call('ZCARD', key)

        if count < limit then
            redis.call('ZADD', key, now_ms, now_ms .. '-' .. math.random(1000000))
            redis.call('PEXPIRE', key, window_ms)
            return { 1, limit - count - 1, 0 }
        end

        local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
        local retry_ms = window_ms
        if oldest[2] then
            retry_ms = math.max(0, tonumber(oldest[2]) + window_ms - now_ms)
        end
        return { 0, 0, retry_ms }
    `)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := cfg.Prefix + ":" + limiterIdentity(c)
			args := []interface{}{
				time.Now().UnixMilli(),
				cfg.Window.Milliseconds(),
				cfg.Limit,
			}
			vals, err := limiterScript.Run(c.Request().Context(), rdb, []string{key}, args...).Result()
			if err != nil {
				// Redis trouble never blocks traffic.
				if cfg.Debug {
					c.Logger().Warnf("[ratelimit] redis error for key=%s: %v", key, err)
				}
				return next(c)
			}
			arr, ok := vals.([]interface{})
			if !ok || len(arr) != 3 {
				return next(c)
			}
			allowed := asInt64(arr[0]) == 1
			remaining := asInt64(arr[1])
			retryMs := asInt64(arr[2])

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if !allowed {
				secs := int((retryMs + 999) / 1000)
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error": echo.Map{
						"code":    "RATE_LIMITED",
						"message": fmt.Sprintf("rate limit exceeded; retry in %ds", secs),
					},
				})
			}
			return next(c)
		}
	}
}

// limiterIdentity keys the window by authenticated user when present, by
// client IP otherwise (webhook and public routes).
func limiterIdentity(c echo.Context) string {
	if id, ok := c.Get(ContextUserID).(uint64); ok {
		return "user:" + strconv.FormatUint(id, 10)
	}
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
