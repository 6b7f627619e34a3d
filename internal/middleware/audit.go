// audit.go provides Gin middleware that records authenticated membership mutations to the
// audit log, with optional shipping to external audit destinations.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learnhub/membership-service/internal/audit"
	"github.com/learnhub/membership-service/internal/config"
)

// Context keys handlers set so the audit entry names the affected membership
const (
	AuditResourceIDKey = "audit_resource_id"
	AuditTenantIDKey   = "audit_tenant_id"
)

// AuditRecorder accepts audit entries. Implemented by audit.Recorder.
type AuditRecorder interface {
	Record(entry *audit.LogEntry)
}

// auditActions maps "METHOD route-template" to the recorded action
var auditActions = map[string]string{
	"POST /api/v1/members":           "member.add",
	"POST /api/v1/members/:id/email": "member.change_email",
	"PATCH /api/v1/members/:id":      "member.update",
	"DELETE /api/v1/members/:id":     "member.deactivate",
}

// AuditMiddleware records mutating requests after the handler has run. Reads are
// never recorded; rejected mutations only when cfg.LogFailedRequests is set.
func AuditMiddleware(recorder AuditRecorder, cfg config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}

		status := c.Writer.Status()
		if status >= 400 && !cfg.LogFailedRequests {
			return
		}

		entry := &audit.LogEntry{
			Timestamp:    time.Now().UTC(),
			Action:       auditAction(c),
			ActorID:      c.GetString(CallerIDKey),
			TenantID:     c.GetString(AuditTenantIDKey),
			ResourceType: "membership",
			ResourceID:   c.GetString(AuditResourceIDKey),
			IPAddress:    c.ClientIP(),
			RequestID:    c.GetString(RequestIDKey),
			StatusCode:   status,
		}
		if entry.ResourceID == "" {
			entry.ResourceID = c.Param("id")
		}
		if method := c.GetString(AuthMethodKey); method != "" {
			entry.Metadata = map[string]interface{}{"auth_method": method}
		}
		if status >= 400 {
			entry.Action += ".rejected"
		}

		recorder.Record(entry)
	}
}

func auditAction(c *gin.Context) string {
	if a, ok := auditActions[c.Request.Method+" "+c.FullPath()]; ok {
		return a
	}
	return strings.ToLower(c.Request.Method) + " " + c.Request.URL.Path
}
