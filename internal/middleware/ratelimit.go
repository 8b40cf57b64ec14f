package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawlclub/backend/internal/config"
	"github.com/rawlclub/backend/internal/streams"
)

// RateLimit throttles a route group per client IP with a sliding-window
// counter in redis. The scope keeps bet traffic and fighter intake on
// separate budgets.
func RateLimit(st *streams.Redis, cfg *config.Config, scope string) gin.HandlerFunc {
	window := time.Duration(cfg.RateLimitWindowSecs) * time.Second
	max := int64(cfg.RateLimitMaxHits)
	return func(c *gin.Context) {
		key := "ratelimit:" + scope + ":" + c.ClientIP()
		if !st.Allow(c.Request.Context(), key, window, max) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}
