// audit_repository.go implements AuditRepository: the append-only trail of
// membership mutations and its tenant-scoped, paginated read side.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/learnhub/membership-service/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters narrows ListAuditLogs. Nil fields are ignored.
type AuditFilters struct {
	ActorID      *string
	TenantID     *string
	Action       *string
	ResourceType *string
	StartDate    *time.Time
	EndDate      *time.Time
}

// where renders the filters as a WHERE clause with positional parameters
func (f AuditFilters) where() (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.TenantID != nil {
		add("tenant_id = $%d", *f.TenantID)
	}
	if f.Action != nil {
		add("action = $%d", *f.Action)
	}
	if f.ResourceType != nil {
		add("resource_type = $%d", *f.ResourceType)
	}
	if f.StartDate != nil {
		add("created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("created_at <= $%d", *f.EndDate)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type auditRow struct {
	ID           string    `db:"id"`
	ActorID      *string   `db:"actor_id"`
	TenantID     *string   `db:"tenant_id"`
	Action       string    `db:"action"`
	ResourceType *string   `db:"resource_type"`
	ResourceID   *string   `db:"resource_id"`
	Metadata     []byte    `db:"metadata"`
	IPAddress    *string   `db:"ip_address"`
	CreatedAt    time.Time `db:"created_at"`
}

func (row auditRow) model() (*models.AuditLog, error) {
	log := &models.AuditLog{
		ID:           row.ID,
		ActorID:      row.ActorID,
		TenantID:     row.TenantID,
		Action:       row.Action,
		ResourceType: row.ResourceType,
		ResourceID:   row.ResourceID,
		IPAddress:    row.IPAddress,
		CreatedAt:    row.CreatedAt,
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &log.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode audit metadata for %s: %w", row.ID, err)
		}
	}
	return log, nil
}

// CreateAuditLog assigns ID and CreatedAt and inserts the entry
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	row := auditRow{
		ID:           uuid.New().String(),
		ActorID:      log.ActorID,
		TenantID:     log.TenantID,
		Action:       log.Action,
		ResourceType: log.ResourceType,
		ResourceID:   log.ResourceID,
		IPAddress:    log.IPAddress,
		CreatedAt:    time.Now().UTC(),
	}
	if log.Metadata != nil {
		md, err := json.Marshal(log.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		row.Metadata = md
	}

	query := `INSERT INTO audit_logs (id, actor_id, tenant_id, action, resource_type, resource_id, metadata, ip_address, created_at)
			  VALUES (:id, :actor_id, :tenant_id, :action, :resource_type, :resource_id, :metadata, :ip_address, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	log.ID = row.ID
	log.CreatedAt = row.CreatedAt
	return nil
}

// ListAuditLogs returns one page of matching entries, newest first, and the
// total number of matches.
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	where, args := filters.where()

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_logs`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, actor_id, tenant_id, action, resource_type, resource_id, metadata, ip_address, created_at
			  FROM audit_logs%s
			  ORDER BY created_at DESC
			  LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)

	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}

	logs := make([]*models.AuditLog, 0, len(rows))
	for _, row := range rows {
		log, err := row.model()
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}
	return logs, total, nil
}
