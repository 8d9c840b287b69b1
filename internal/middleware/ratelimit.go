package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "lingochat-backend/pkg/errors"
	"lingochat-backend/pkg/metrics"
	"lingochat-backend/pkg/ratelimit"
	"lingochat-backend/pkg/response"
)

// RateLimit throttles HTTP requests with the shared limiter's http class,
// keyed by the authenticated identity or, before auth, the client IP
func RateLimit(limiter *ratelimit.Limiter, m *metrics.Metrics) gin.HandlerFunc {
	limit := limiter.LimitFor(ratelimit.OpHTTP)

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if auth := GetAuthContext(c); auth != nil {
			key = auth.Identity.String()
		}

		decision := limiter.Check(ratelimit.OpHTTP, key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Max))

		if !decision.Allowed {
			if m != nil {
				m.RecordRateLimitBlocked(string(ratelimit.OpHTTP))
			}
			response.FromError(c, apperrors.RateLimitExceededError(decision.RetryAfterSeconds()))
			c.Abort()
			return
		}

		c.Next()
	}
}
