// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RateLimit → Auth → Privilege → Audit → Handler
//
// Auth populates the caller identity; the privilege check reads it and stores the
// caller's profile for handlers that need to re-check against the target tenant.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/learnhub/membership-service/internal/auth"
	"github.com/learnhub/membership-service/internal/membership"
)

// Context keys set by the authentication and privilege middleware
const (
	CallerIDKey      = "caller_id"
	CallerEmailKey   = "caller_email"
	CallerProfileKey = "caller_profile"
	AuthMethodKey    = "auth_method"
)

// AuthMiddleware validates the bearer token and sets the caller identity
func AuthMiddleware(verifier *auth.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthenticated(c, "Missing authorization header")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			abortUnauthenticated(c, "Authorization header must start with 'Bearer '")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			abortUnauthenticated(c, "Authorization token is empty")
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			abortUnauthenticated(c, "Invalid or expired token")
			return
		}

		c.Set(CallerIDKey, claims.IdentityID())
		c.Set(CallerEmailKey, claims.Email)
		c.Set(AuthMethodKey, "jwt")

		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context, msg string) {
	AbortWithKind(c, http.StatusUnauthorized, string(membership.KindUnauthenticated), gin.H{"error": msg})
}
