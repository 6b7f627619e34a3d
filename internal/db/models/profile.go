// Package models - profile.go defines the per-identity Profile cache read by the
// authorization gate and the role constants it carries.
package models

import "time"

// Profile roles
const (
	RoleAdmin        = "admin"
	RoleCompany      = "company"
	RoleCollaborator = "collaborator"
	RoleStudent      = "student"
)

// Profile is the cached role record for an identity. It is derived data:
// the Membership row is authoritative for tenant association.
type Profile struct {
	IdentityID  string    `db:"identity_id"`
	Role        string    `db:"role"`
	TenantID    *string   `db:"tenant_id"`
	DisplayName string    `db:"display_name"`
	UpdatedAt   time.Time `db:"updated_at"`
}
