// membership_repository.go implements MembershipRepository, providing database queries for
// tenant memberships: system-wide and tenant-scoped email lookup, per-identity listing,
// insert, partial update, identity-wide email moves, and active-seat counting.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/learnhub/membership-service/internal/db/models"
)

// ErrDuplicateMembership is returned by Insert when (tenant_id, email) already exists.
var ErrDuplicateMembership = errors.New("membership already exists for tenant and email")

const uniqueViolation = "23505"

const membershipColumns = `id, identity_id, tenant_id, email, display_name, phone, position,
		       is_active, needs_credential_reset, created_at, updated_at`

// MembershipRepository handles database operations for memberships
type MembershipRepository struct {
	db *sql.DB
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *sql.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMembership(row rowScanner) (*models.Membership, error) {
	m := &models.Membership{}
	err := row.Scan(
		&m.ID,
		&m.IdentityID,
		&m.TenantID,
		&m.Email,
		&m.DisplayName,
		&m.Phone,
		&m.Position,
		&m.IsActive,
		&m.NeedsCredentialReset,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MembershipRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Membership, error) {
	m, err := scanMembership(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// FindByEmail looks the email up across all tenants. When several rows exist the
// active one wins, then the most recently updated.
func (r *MembershipRepository) FindByEmail(ctx context.Context, email string) (*models.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE email = $1
		ORDER BY is_active DESC, updated_at DESC
		LIMIT 1
	`
	return r.getOne(ctx, query, models.NormalizeEmail(email))
}

// FindByTenantAndEmail returns the tenant's row for email, active or not
func (r *MembershipRepository) FindByTenantAndEmail(ctx context.Context, tenantID, email string) (*models.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE tenant_id = $1 AND email = $2
	`
	return r.getOne(ctx, query, tenantID, models.NormalizeEmail(email))
}

// FindByID retrieves a membership by ID
func (r *MembershipRepository) FindByID(ctx context.Context, id string) (*models.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE id = $1
	`
	return r.getOne(ctx, query, id)
}

// ListByIdentity returns every membership of the identity, active rows first
func (r *MembershipRepository) ListByIdentity(ctx context.Context, identityID string) ([]*models.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE identity_id = $1
		ORDER BY is_active DESC, updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identity memberships: %w", err)
	}
	defer rows.Close()

	members := make([]*models.Membership, 0)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

// Insert creates a new membership row. ID and timestamps are assigned here.
func (r *MembershipRepository) Insert(ctx context.Context, m *models.Membership) (*models.Membership, error) {
	out := *m
	out.ID = uuid.New().String()
	out.Email = models.NormalizeEmail(m.Email)

	query := `
		INSERT INTO memberships (id, identity_id, tenant_id, email, display_name, phone, position,
		                         is_active, needs_credential_reset, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		out.ID,
		out.IdentityID,
		out.TenantID,
		out.Email,
		out.DisplayName,
		out.Phone,
		out.Position,
		out.IsActive,
		out.NeedsCredentialReset,
	).Scan(&out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return nil, fmt.Errorf("failed to insert membership: %w", ErrDuplicateMembership)
		}
		return nil, fmt.Errorf("failed to insert membership: %w", err)
	}

	return &out, nil
}

// Update applies the non-nil fields of upd and bumps updated_at.
// Returns nil, nil when the membership does not exist.
func (r *MembershipRepository) Update(ctx context.Context, id string, upd models.MembershipUpdate) (*models.Membership, error) {
	sets := make([]string, 0, 7)
	args := make([]interface{}, 0, 7)
	paramIndex := 1

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, paramIndex))
		args = append(args, value)
		paramIndex++
	}

	if upd.Email != nil {
		add("email", models.NormalizeEmail(*upd.Email))
	}
	if upd.DisplayName != nil {
		add("display_name", *upd.DisplayName)
	}
	if upd.Phone != nil {
		add("phone", *upd.Phone)
	}
	if upd.Position != nil {
		add("position", *upd.Position)
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}
	if upd.NeedsCredentialReset != nil {
		add("needs_credential_reset", *upd.NeedsCredentialReset)
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE memberships
		SET %s
		WHERE id = $%d
		RETURNING `+membershipColumns,
		strings.Join(sets, ", "), paramIndex)
	args = append(args, id)

	m, err := scanMembership(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return nil, fmt.Errorf("failed to update membership: %w", ErrDuplicateMembership)
		}
		return nil, fmt.Errorf("failed to update membership: %w", err)
	}

	return m, nil
}

// UpdateEmailByIdentity moves every membership of the identity to email in one
// statement and returns the number of rows changed.
func (r *MembershipRepository) UpdateEmailByIdentity(ctx context.Context, identityID, email string) (int64, error) {
	email = models.NormalizeEmail(email)
	result, err := r.db.ExecContext(ctx, `
		UPDATE memberships
		SET email = $1, updated_at = NOW()
		WHERE identity_id = $2 AND email <> $1
	`, email, identityID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return 0, fmt.Errorf("failed to update identity memberships: %w", ErrDuplicateMembership)
		}
		return 0, fmt.Errorf("failed to update identity memberships: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// ListByTenant returns the tenant's memberships ordered by display name
func (r *MembershipRepository) ListByTenant(ctx context.Context, tenantID string, includeInactive bool) ([]*models.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE tenant_id = $1 AND (is_active OR $2)
		ORDER BY display_name, email
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	members := make([]*models.Membership, 0)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

// CountActiveByTenant returns the number of active memberships (occupied seats)
func (r *MembershipRepository) CountActiveByTenant(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE tenant_id = $1 AND is_active`,
		tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active memberships: %w", err)
	}
	return count, nil
}
