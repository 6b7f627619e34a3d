// Package auth - gate.go implements the authorization gate consulted before any
// membership mutation.
//
// Roles are read from the profile cache on every request rather than embedded in the
// token, so a role change takes effect on the caller's next request.
package auth

import (
	"context"
	"fmt"

	"github.com/learnhub/membership-service/internal/db/models"
	"github.com/learnhub/membership-service/internal/membership"
)

// Privilege is a capability required by an endpoint
type Privilege string

const (
	// PrivilegeManageAnyTenant allows managing memberships of every tenant (platform admins)
	PrivilegeManageAnyTenant Privilege = "members:manage_any"
	// PrivilegeManageTenant allows managing memberships of the caller's own tenant
	PrivilegeManageTenant Privilege = "members:manage_tenant"
)

// ProfileReader loads caller profiles. Implemented by repositories.ProfileRepository.
type ProfileReader interface {
	GetByIdentityID(ctx context.Context, identityID string) (*models.Profile, error)
}

// Gate decides whether a caller holds a privilege
type Gate struct {
	profiles ProfileReader
}

// NewGate creates a Gate
func NewGate(profiles ProfileReader) *Gate {
	return &Gate{profiles: profiles}
}

// Resolve loads the caller's profile. A caller without one is forbidden.
func (g *Gate) Resolve(ctx context.Context, callerID string) (*models.Profile, error) {
	p, err := g.profiles.GetByIdentityID(ctx, callerID)
	if err != nil {
		return nil, membership.NewError(membership.KindInternal, fmt.Errorf("failed to load caller profile: %w", err))
	}
	if p == nil {
		return nil, membership.NewError(membership.KindForbidden, nil)
	}
	return p, nil
}

// Authorize resolves the caller and checks the privilege for tenantID.
// An empty tenantID checks only that the role can hold the privilege at all; the
// handler repeats the check once the target tenant is known.
func (g *Gate) Authorize(ctx context.Context, callerID string, privilege Privilege, tenantID string) (*models.Profile, error) {
	p, err := g.Resolve(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if !Allows(p, privilege, tenantID) {
		return nil, membership.NewError(membership.KindForbidden, nil)
	}
	return p, nil
}

// Allows reports whether profile p holds privilege for tenantID
func Allows(p *models.Profile, privilege Privilege, tenantID string) bool {
	if p == nil {
		return false
	}
	if p.Role == models.RoleAdmin {
		return true
	}

	switch privilege {
	case PrivilegeManageTenant:
		if p.Role != models.RoleCompany || p.TenantID == nil || *p.TenantID == "" {
			return false
		}
		return tenantID == "" || *p.TenantID == tenantID
	default:
		return false
	}
}
