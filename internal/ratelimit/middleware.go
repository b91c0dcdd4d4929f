package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const keyPrefix = "rate_limit:"

// Middleware gates every request through the limiter before the handler
// runs. Counter-store failures abort with 500 rather than failing open.
func Middleware(limiter *Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyPrefix + c.ClientIP()

		dec, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Error("rate limiter store error", "error", err, "key", key)
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		if !dec.Allowed {
			c.String(http.StatusTooManyRequests, "Rate Limit Exceeded")
			c.Abort()
			return
		}

		c.Header("X-Ratelimit-Remaining", strconv.Itoa(dec.Remaining))
		c.Header("X-Ratelimit-Limit", strconv.Itoa(dec.Limit))
		c.Next()
	}
}
