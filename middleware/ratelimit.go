package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"document-chat-platform/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitByIP limits every request per client address. It runs ahead of
// authentication so rejected tokens are limited too.
func RateLimitByIP(rdb redis.Cmdable, limit int, window time.Duration, clientIP func(*http.Request) string) gin.HandlerFunc {
	return fixedWindow(rdb, limit, window, func(c *gin.Context) string {
		return "ip:" + clientIP(c.Request)
	})
}

// RateLimitMiddleware limits authenticated requests per owner and route.
func RateLimitMiddleware(rdb redis.Cmdable, limit int, window time.Duration) gin.HandlerFunc {
	return fixedWindow(rdb, limit, window, func(c *gin.Context) string {
		return "owner:" + GetOwner(c) + ":" + c.FullPath()
	})
}

// fixedWindow counts requests per key in Redis. It fails open when Redis is
// unreachable.
func fixedWindow(rdb redis.Cmdable, limit int, window time.Duration, key func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/health" {
			c.Next()
			return
		}

		k := "ratelimit:" + key(c)
		ctx := c.Request.Context()
		count, err := rdb.Incr(ctx, k).Result()
		if err != nil {
			slog.Warn("rate limiter unavailable", "error", err)
			c.Next()
			return
		}
		if count == 1 {
			rdb.Expire(ctx, k, window)
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		if count > int64(limit) {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(window).Unix(), 10))

			utils.RespondWithError(c, http.StatusTooManyRequests,
				"rate_limit_exceeded",
				"Too many requests. Please try again later.",
				gin.H{
					"retry_after": int(window.Seconds()),
					"limit":       limit,
				})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(limit-int(count)))
		c.Next()
	}
}
