// profile_repository.go implements ProfileRepository, the role cache read by the
// authorization gate and upserted after a successful membership insert.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/learnhub/membership-service/internal/db/models"
)

// ProfileRepository handles database operations for identity profiles
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetByIdentityID returns the profile for identityID, or nil when none is cached
func (r *ProfileRepository) GetByIdentityID(ctx context.Context, identityID string) (*models.Profile, error) {
	query := `SELECT identity_id, role, tenant_id, display_name, updated_at
			  FROM profiles WHERE identity_id = $1`

	var p models.Profile
	err := r.db.GetContext(ctx, &p, query, identityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// Upsert writes the profile, last writer wins. An existing admin role is never
// downgraded by a membership-driven upsert.
func (r *ProfileRepository) Upsert(ctx context.Context, p *models.Profile) error {
	query := `INSERT INTO profiles (identity_id, role, tenant_id, display_name, updated_at)
			  VALUES (:identity_id, :role, :tenant_id, :display_name, NOW())
			  ON CONFLICT (identity_id) DO UPDATE
			  SET role = CASE WHEN profiles.role = 'admin' THEN profiles.role ELSE EXCLUDED.role END,
			      tenant_id = EXCLUDED.tenant_id,
			      display_name = EXCLUDED.display_name,
			      updated_at = NOW()`

	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}
