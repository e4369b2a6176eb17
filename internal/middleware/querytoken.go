// querytoken.go guards machine-to-machine endpoints (download-manager feeds,
// the Plex webhook, library sync) with a shared secret passed as ?token=.
// These callers cannot send custom headers, so the token travels in the URL.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// QueryTokenConfig describes one token-protected route group.
type QueryTokenConfig struct {
	// Name appears in error messages and logs, e.g. "Feed" or "Webhook".
	Name string
	// Token is the expected value. When empty, Required decides the outcome.
	Token string
	// Required rejects every call while Token is unset instead of allowing it.
	Required bool
}

// QueryTokenMiddleware checks ?token= against cfg.Token in constant time.
func QueryTokenMiddleware(cfg QueryTokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Token == "" {
			if cfg.Required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": cfg.Name + " token not configured",
				})
				return
			}
			c.Next()
			return
		}

		provided := c.Query("token")
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": cfg.Name + " token required. Add ?token=YOUR_TOKEN to the URL.",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.Token)) != 1 {
			slog.Warn("invalid query token", "route", c.FullPath(), "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid " + strings.ToLower(cfg.Name) + " token",
			})
			return
		}

		c.Next()
	}
}
