package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redisStore "ledger-settlement-engine/internal/adapter/storage/redis"
	"ledger-settlement-engine/pkg/apperror"
	"ledger-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Limiter is the counter behind RateLimiter. *redis.RateLimitStore implements it.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*redisStore.RateLimitResult, error)
}

// RateLimitRule defines a rate limit for an endpoint group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRateLimitRules returns the per-principal limits of each endpoint group.
// settlementLimit and window come from configuration.
func DefaultRateLimitRules(settlementLimit int64, window time.Duration) map[string]RateLimitRule {
	if window <= 0 {
		window = time.Minute
	}
	return map[string]RateLimitRule{
		"settlements":       {Limit: settlementLimit, Window: window},
		"settlements_batch": {Limit: max(settlementLimit/10, 1), Window: window},
		"reversals":         {Limit: 60, Window: time.Minute},
		"accounts":          {Limit: 120, Window: time.Minute},
		"reports":           {Limit: 30, Window: time.Minute},
	}
}

// RateLimiter creates a rate-limiting middleware for a given endpoint group.
// It fails open when the counter store is unreachable.
func RateLimiter(store Limiter, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s", extractIdentifier(c), group)

		result, err := store.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := result.ResetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			response.Error(c, apperror.ErrRateLimitExceeded())
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractIdentifier keys limits by principal, falling back to the client IP.
func extractIdentifier(c *gin.Context) string {
	if p, ok := Principal(c); ok && p.ID != "" {
		return "principal:" + p.ID
	}
	return "ip:" + c.ClientIP()
}
