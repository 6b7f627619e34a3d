package members

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/learnhub/membership-service/internal/membership"
	"github.com/learnhub/membership-service/internal/middleware"
)

var statusByKind = map[membership.Kind]int{
	membership.KindInvalidRequest:           http.StatusBadRequest,
	membership.KindUnauthenticated:          http.StatusUnauthorized,
	membership.KindSeatLimitReached:         http.StatusPaymentRequired,
	membership.KindForbidden:                http.StatusForbidden,
	membership.KindTenantNotFound:           http.StatusNotFound,
	membership.KindMembershipNotFound:       http.StatusNotFound,
	membership.KindAlreadyActiveMember:      http.StatusConflict,
	membership.KindCrossTenantConflict:      http.StatusConflict,
	membership.KindEmailConflict:            http.StatusConflict,
	membership.KindConcurrentModification:   http.StatusConflict,
	membership.KindPartialEmailSync:         http.StatusInternalServerError,
	membership.KindInternal:                 http.StatusInternalServerError,
	membership.KindMembershipCreationFailed: http.StatusBadGateway,
}

// StatusFor returns the HTTP status for an error kind
func StatusFor(kind membership.Kind) int {
	if s, ok := statusByKind[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// writeError renders err as {kind, error, retryable}. Causes are logged, never returned.
func writeError(c *gin.Context, err error) {
	var merr *membership.Error
	if !errors.As(err, &merr) {
		merr = membership.NewError(membership.KindInternal, err)
	}

	status := StatusFor(merr.Kind)
	if status >= http.StatusInternalServerError {
		middleware.Logger(c).Error("membership request failed",
			"kind", merr.Kind, "path", c.FullPath(), "error", err)
	}

	middleware.AbortWithKind(c, status, string(merr.Kind), gin.H{
		"error":     merr.Public(),
		"retryable": merr.Kind.Retryable(),
	})
}

// writeBindError reports a request body that failed to decode or validate
func writeBindError(c *gin.Context, err error) {
	writeError(c, membership.Invalid("%s", describeBindError(err)))
}

func describeBindError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "request body must be a valid JSON object"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := jsonFieldName(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "phone":
			msgs = append(msgs, field+" must be a valid phone number")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

var jsonNames = map[string]string{
	"TenantID": "tenant_id",
	"Email":    "email",
	"NewEmail": "new_email",
	"Name":     "name",
	"Phone":    "phone",
	"Position": "position",
	"IsActive": "is_active",
}

func jsonFieldName(field string) string {
	if n, ok := jsonNames[field]; ok {
		return n
	}
	return strings.ToLower(field)
}
