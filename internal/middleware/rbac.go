// Package middleware (rbac.go) implements privilege-based authorization middleware.
//
// The caller's role is read from the profile cache at request time rather than
// trusted from the token.

package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/learnhub/membership-service/internal/auth"
	"github.com/learnhub/membership-service/internal/db/models"
	"github.com/learnhub/membership-service/internal/membership"
)

// RequirePrivilege checks that the authenticated caller holds privilege. When
// tenantParam names a route parameter, the check is scoped to that tenant;
// otherwise only the role is checked and the handler re-checks once the target
// tenant is known.
func RequirePrivilege(gate *auth.Gate, privilege auth.Privilege, tenantParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		callerID := c.GetString(CallerIDKey)
		if callerID == "" {
			abortUnauthenticated(c, "Authentication required")
			return
		}

		tenantID := ""
		if tenantParam != "" {
			tenantID = c.Param(tenantParam)
		}

		profile, err := gate.Authorize(c.Request.Context(), callerID, privilege, tenantID)
		if err != nil {
			if errors.Is(err, membership.ErrForbidden) {
				AbortWithKind(c, http.StatusForbidden, string(membership.KindForbidden), gin.H{
					"error": membership.KindForbidden.Message(),
				})
				return
			}
			slog.Error("privilege check failed", "caller_id", callerID, "error", err)
			AbortWithKind(c, http.StatusInternalServerError, string(membership.KindInternal), gin.H{
				"error": membership.KindInternal.Message(),
			})
			return
		}

		c.Set(CallerProfileKey, profile)
		c.Next()
	}
}

// CallerProfile returns the profile stored by RequirePrivilege, or nil
func CallerProfile(c *gin.Context) *models.Profile {
	v, ok := c.Get(CallerProfileKey)
	if !ok {
		return nil
	}
	p, _ := v.(*models.Profile)
	return p
}
