// Package middleware provides the Gin middleware in front of every route.
//
// Ordering is fixed in router.go:
//
//	Recovery -> RequestID -> Metrics -> Logger -> Security/CORS -> RateLimit -> Auth -> Handler
//
// Rate limiting runs before authentication so guessing is throttled before
// any token or proof work happens.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/overseer-lite/overseer-lite/internal/auth"
)

// SessionKey is the gin.Context key holding the verified *auth.Session.
const SessionKey = "session"

// Authorizer verifies session tokens. Satisfied by *auth.Service.
type Authorizer interface {
	Authorize(token string) (*auth.Session, error)
}

// SessionAuthMiddleware requires a valid "Authorization: Bearer <token>"
// session token. Every failure is the same 401 so clients simply log in again.
func SessionAuthMiddleware(authorizer Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abortReauthenticate(c)
			return
		}

		session, err := authorizer.Authorize(token)
		if err != nil {
			abortReauthenticate(c)
			return
		}

		c.Set(SessionKey, session)
		c.Next()
	}
}

func abortReauthenticate(c *gin.Context) {
	c.Header("WWW-Authenticate", `Bearer realm="overseer-lite"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": "Invalid or expired session. Please log in again.",
	})
}

// GetSession returns the session set by SessionAuthMiddleware, or nil.
func GetSession(c *gin.Context) *auth.Session {
	v, ok := c.Get(SessionKey)
	if !ok {
		return nil
	}
	session, _ := v.(*auth.Session)
	return session
}
