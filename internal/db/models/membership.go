// Package models - membership.go defines the tenant-scoped Membership row linking an
// identity to a company, along with the partial update applied by profile edits.
package models

import (
	"strings"
	"time"
)

// Membership represents one person's membership in one tenant.
// The pair (TenantID, Email) is unique; IsActive=false rows are retained for reactivation.
type Membership struct {
	ID                   string    `json:"id"`
	IdentityID           string    `json:"identity_id"`
	TenantID             string    `json:"tenant_id"`
	Email                string    `json:"email"`
	DisplayName          string    `json:"name"`
	Phone                *string   `json:"phone,omitempty"`
	Position             *string   `json:"position,omitempty"`
	IsActive             bool      `json:"is_active"`
	NeedsCredentialReset bool      `json:"needs_credential_reset"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// MembershipUpdate carries the fields of a partial update. Nil fields are left unchanged.
type MembershipUpdate struct {
	Email                *string
	DisplayName          *string
	Phone                *string
	Position             *string
	IsActive             *bool
	NeedsCredentialReset *bool
}

// IsEmpty reports whether the update would change nothing
func (u MembershipUpdate) IsEmpty() bool {
	return u.Email == nil && u.DisplayName == nil && u.Phone == nil &&
		u.Position == nil && u.IsActive == nil && u.NeedsCredentialReset == nil
}

// Apply copies the non-nil fields of u onto m
func (u MembershipUpdate) Apply(m *Membership) {
	if u.Email != nil {
		m.Email = *u.Email
	}
	if u.DisplayName != nil {
		m.DisplayName = *u.DisplayName
	}
	if u.Phone != nil {
		m.Phone = u.Phone
	}
	if u.Position != nil {
		m.Position = u.Position
	}
	if u.IsActive != nil {
		m.IsActive = *u.IsActive
	}
	if u.NeedsCredentialReset != nil {
		m.NeedsCredentialReset = *u.NeedsCredentialReset
	}
}

// NormalizeEmail is the canonical form used as the lookup key everywhere
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
