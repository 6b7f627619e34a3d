package membership

import (
	"context"
	"fmt"

	"github.com/learnhub/membership-service/internal/db/models"
)

// PlanSource reads the mirrored billing plan of a tenant.
// Implemented by repositories.TenantPlanRepository.
type PlanSource interface {
	GetByTenantID(ctx context.Context, tenantID string) (*models.TenantPlan, error)
}

// SeatCounter counts occupied seats
type SeatCounter interface {
	CountActiveByTenant(ctx context.Context, tenantID string) (int, error)
}

// SeatPolicy enforces plan seat limits. A tenant without a plan row gets
// DefaultLimit seats; a limit of zero or less means unlimited.
type SeatPolicy struct {
	Plans        PlanSource
	Counter      SeatCounter
	Enforce      bool
	DefaultLimit int
}

// CheckSeat implements SeatChecker
func (p *SeatPolicy) CheckSeat(ctx context.Context, tenantID string) error {
	if !p.Enforce {
		return nil
	}

	plan, err := p.Plans.GetByTenantID(ctx, tenantID)
	if err != nil {
		return internalErr("failed to read tenant plan", err)
	}

	limit := p.DefaultLimit
	if plan != nil {
		if !plan.AllowsNewSeats() {
			return &Error{
				Kind:    KindSeatLimitReached,
				Message: fmt.Sprintf("the company's %s plan is %s and cannot take new members", plan.PlanName, plan.Status),
			}
		}
		limit = 0
		if plan.SeatLimit != nil {
			limit = *plan.SeatLimit
		}
	}
	if limit <= 0 {
		return nil
	}

	used, err := p.Counter.CountActiveByTenant(ctx, tenantID)
	if err != nil {
		return internalErr("failed to count active members", err)
	}
	if used >= limit {
		return &Error{
			Kind:    KindSeatLimitReached,
			Message: fmt.Sprintf("all %d seats of the company's plan are in use", limit),
		}
	}
	return nil
}
