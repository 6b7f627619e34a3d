// tenant_repository.go implements TenantRepository, resolving the companies that own
// memberships.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/learnhub/membership-service/internal/db/models"
)

// TenantRepository handles database operations for tenants
type TenantRepository struct {
	db *sql.DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	query := `
		SELECT id, name, display_name, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`

	t := &models.Tenant{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID,
		&t.Name,
		&t.DisplayName,
		&t.CreatedAt,
		&t.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return t, nil
}
