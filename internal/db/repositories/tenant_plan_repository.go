// tenant_plan_repository.go implements TenantPlanRepository, reading the locally
// mirrored billing plan of a tenant for seat limit checks.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/learnhub/membership-service/internal/db/models"
)

// TenantPlanRepository handles database operations for tenant plans
type TenantPlanRepository struct {
	db *sqlx.DB
}

// NewTenantPlanRepository creates a new tenant plan repository
func NewTenantPlanRepository(db *sqlx.DB) *TenantPlanRepository {
	return &TenantPlanRepository{db: db}
}

// GetByTenantID returns the plan, or nil when the tenant has no mirrored plan
func (r *TenantPlanRepository) GetByTenantID(ctx context.Context, tenantID string) (*models.TenantPlan, error) {
	query := `SELECT tenant_id, plan_name, seat_limit, status, updated_at
			  FROM tenant_plans WHERE tenant_id = $1`

	var p models.TenantPlan
	err := r.db.GetContext(ctx, &p, query, tenantID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant plan: %w", err)
	}
	return &p, nil
}
