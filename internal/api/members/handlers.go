// Package members implements the HTTP handlers for collaborator membership: adding or
// reactivating a member, changing a member's email, editing and deactivating members,
// and reading a tenant's roster and audit trail.
//
// Every route is behind AuthMiddleware and RequirePrivilege. Handlers repeat the
// privilege check against the membership's actual tenant once it is known.
package members

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/learnhub/membership-service/internal/auth"
	"github.com/learnhub/membership-service/internal/db/models"
	"github.com/learnhub/membership-service/internal/db/repositories"
	"github.com/learnhub/membership-service/internal/membership"
	"github.com/learnhub/membership-service/internal/middleware"
)

// MemberService is the membership core used by the handlers. Implemented by
// *membership.Service.
type MemberService interface {
	AddOrReactivateMember(ctx context.Context, in membership.AddMemberInput) (*membership.AddMemberResult, error)
	ChangeEmail(ctx context.Context, membershipID, newEmail string) (*models.Membership, error)
	UpdateProfile(ctx context.Context, membershipID string, upd membership.ProfileUpdate) (*models.Membership, error)
	Deactivate(ctx context.Context, membershipID string) (*models.Membership, error)
	GetMember(ctx context.Context, membershipID string) (*models.Membership, error)
	ListMembers(ctx context.Context, tenantID string, includeInactive bool) ([]*models.Membership, error)
}

// AuditLister reads the audit trail. Implemented by repositories.AuditRepository.
type AuditLister interface {
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
}

// Handlers serves the membership endpoints
type Handlers struct {
	svc    MemberService
	audits AuditLister
}

// NewHandlers creates membership handlers. audits may be nil when audit
// logging is disabled.
func NewHandlers(svc MemberService, audits AuditLister) *Handlers {
	RegisterValidations()
	return &Handlers{svc: svc, audits: audits}
}

// AddMemberRequest is the body of POST /api/v1/members
type AddMemberRequest struct {
	TenantID string  `json:"tenant_id" binding:"required"`
	Email    string  `json:"email" binding:"required"`
	Name     string  `json:"name" binding:"required,max=200"`
	Phone    *string `json:"phone" binding:"omitempty,phone"`
	Position *string `json:"position" binding:"omitempty,max=200"`
}

// ChangeEmailRequest is the body of POST /api/v1/members/:id/email
type ChangeEmailRequest struct {
	NewEmail string `json:"new_email" binding:"required"`
}

// UpdateMemberRequest is the body of PATCH /api/v1/members/:id
type UpdateMemberRequest struct {
	Name     *string `json:"name" binding:"omitempty,max=200"`
	Phone    *string `json:"phone" binding:"omitempty,phone"`
	Position *string `json:"position" binding:"omitempty,max=200"`
	IsActive *bool   `json:"is_active"`
}

// @Summary      Add or reactivate member
// @Description  Adds a collaborator to a tenant, creating the identity when needed, or reactivates a dormant membership.
// @Tags         Members
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  AddMemberRequest  true  "Member details"
// @Success      201  {object}  map[string]interface{}  "membership, is_reactivation=false"
// @Success      200  {object}  map[string]interface{}  "membership, is_reactivation=true"
// @Failure      409  {object}  map[string]interface{}  "already_active_member, cross_tenant_conflict, concurrent_modification"
// @Failure      502  {object}  map[string]interface{}  "membership_creation_failed"
// @Router       /api/v1/members [post]
// AddMemberHandler handles POST /api/v1/members
func (h *Handlers) AddMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AddMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}

		c.Set(middleware.AuditTenantIDKey, req.TenantID)
		if !allowed(c, req.TenantID) {
			writeError(c, membership.ErrForbidden)
			return
		}

		res, err := h.svc.AddOrReactivateMember(c.Request.Context(), membership.AddMemberInput{
			TenantID:    req.TenantID,
			Email:       req.Email,
			DisplayName: req.Name,
			Phone:       req.Phone,
			Position:    req.Position,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.Set(middleware.AuditResourceIDKey, res.Membership.ID)
		status := http.StatusCreated
		if res.IsReactivation {
			status = http.StatusOK
		}
		c.JSON(status, gin.H{
			"membership":      res.Membership,
			"is_reactivation": res.IsReactivation,
		})
	}
}

// @Summary      Change member email
// @Description  Changes the sign-in email on the identity and the membership. A partial_email_sync error is safe to retry.
// @Tags         Members
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string              true  "Membership ID"
// @Param        body  body  ChangeEmailRequest  true  "New email"
// @Success      200  {object}  map[string]interface{}  "membership"
// @Failure      404  {object}  map[string]interface{}  "membership_not_found"
// @Failure      409  {object}  map[string]interface{}  "email_conflict"
// @Failure      500  {object}  map[string]interface{}  "partial_email_sync (retryable)"
// @Router       /api/v1/members/{id}/email [post]
// ChangeEmailHandler handles POST /api/v1/members/:id/email
func (h *Handlers) ChangeEmailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ChangeEmailRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
		if _, ok := h.authorizeMember(c); !ok {
			return
		}

		m, err := h.svc.ChangeEmail(c.Request.Context(), c.Param("id"), req.NewEmail)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"membership": m})
	}
}

// UpdateMemberHandler handles PATCH /api/v1/members/:id
func (h *Handlers) UpdateMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
		if _, ok := h.authorizeMember(c); !ok {
			return
		}

		m, err := h.svc.UpdateProfile(c.Request.Context(), c.Param("id"), membership.ProfileUpdate{
			DisplayName: req.Name,
			Phone:       req.Phone,
			Position:    req.Position,
			IsActive:    req.IsActive,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"membership": m})
	}
}

// DeactivateMemberHandler handles DELETE /api/v1/members/:id. The row is kept
// inactive so the member can be reactivated later.
func (h *Handlers) DeactivateMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := h.authorizeMember(c); !ok {
			return
		}

		m, err := h.svc.Deactivate(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"membership": m})
	}
}

// GetMemberHandler handles GET /api/v1/members/:id
func (h *Handlers) GetMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := h.authorizeMember(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"membership": m})
	}
}

// ListTenantMembersHandler handles GET /api/v1/tenants/:tenant_id/members
func (h *Handlers) ListTenantMembersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("tenant_id")
		includeInactive, _ := strconv.ParseBool(c.DefaultQuery("include_inactive", "false"))

		members, err := h.svc.ListMembers(c.Request.Context(), tenantID, includeInactive)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"members": members,
			"total":   len(members),
		})
	}
}

// ListTenantAuditLogsHandler handles GET /api/v1/tenants/:tenant_id/audit-logs?page=1&per_page=50&action=
func (h *Handlers) ListTenantAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.audits == nil {
			c.JSON(http.StatusOK, gin.H{"audit_logs": []*models.AuditLog{}, "pagination": gin.H{"total": 0}})
			return
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 200 {
			perPage = 50
		}

		tenantID := c.Param("tenant_id")
		filters := repositories.AuditFilters{TenantID: &tenantID}
		if action := c.Query("action"); action != "" {
			filters.Action = &action
		}

		logs, total, err := h.audits.ListAuditLogs(c.Request.Context(), filters, perPage, (page-1)*perPage)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"audit_logs": logs,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// authorizeMember loads the addressed membership and checks the caller may
// manage its tenant. On failure the response has been written. Only callers who
// manage every tenant can tell a missing id from another tenant's.
func (h *Handlers) authorizeMember(c *gin.Context) (*models.Membership, bool) {
	m, err := h.svc.GetMember(c.Request.Context(), c.Param("id"))
	if errors.Is(err, membership.ErrMembershipNotFound) &&
		!auth.Allows(middleware.CallerProfile(c), auth.PrivilegeManageAnyTenant, "") {
		writeError(c, membership.ErrForbidden)
		return nil, false
	}
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	c.Set(middleware.AuditTenantIDKey, m.TenantID)
	if !allowed(c, m.TenantID) {
		writeError(c, membership.ErrForbidden)
		return nil, false
	}
	return m, true
}

func allowed(c *gin.Context, tenantID string) bool {
	return auth.Allows(middleware.CallerProfile(c), auth.PrivilegeManageTenant, tenantID)
}
