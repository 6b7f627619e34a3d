// Package models - audit_log.go defines the AuditLog model recording membership
// mutations with actor, tenant, affected resource, client IP, and metadata.
package models

import "time"

// AuditLog represents an audit log entry for a membership mutation
type AuditLog struct {
	ID           string
	ActorID      *string // Nullable for system actions
	TenantID     *string
	Action       string                 // "member.add", "member.change_email", "member.update"
	ResourceType *string                // "membership"
	ResourceID   *string                // ID of the affected membership
	Metadata     map[string]interface{} // JSONB: additional context
	IPAddress    *string
	CreatedAt    time.Time
}
