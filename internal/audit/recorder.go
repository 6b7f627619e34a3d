package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/learnhub/membership-service/internal/db/models"
	"github.com/learnhub/membership-service/internal/safego"
)

// Store persists audit records. Implemented by repositories.AuditRepository.
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Recorder writes entries to the store and the shippers off the request path
type Recorder struct {
	store   Store
	shipper Shipper
	tasks   safego.Group
}

// NewRecorder creates a Recorder. Either dependency may be nil.
func NewRecorder(store Store, shipper Shipper) *Recorder {
	return &Recorder{store: store, shipper: shipper}
}

// Record queues entry for persistence and shipping
func (r *Recorder) Record(entry *LogEntry) {
	r.tasks.Go("audit.record", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.write(ctx, entry)
	})
}

// Wait blocks until queued entries are written
func (r *Recorder) Wait() {
	r.tasks.Wait()
}

func (r *Recorder) write(ctx context.Context, entry *LogEntry) {
	if r.store != nil {
		if err := r.store.CreateAuditLog(ctx, toModel(entry)); err != nil {
			slog.Error("failed to persist audit log", "action", entry.Action, "error", err)
		}
	}
	if r.shipper != nil {
		if err := r.shipper.Ship(ctx, entry); err != nil {
			slog.Warn("failed to ship audit log", "action", entry.Action, "error", err)
		}
	}
}

func toModel(e *LogEntry) *models.AuditLog {
	l := &models.AuditLog{
		Action:   e.Action,
		Metadata: e.Metadata,
	}
	l.ActorID = optional(e.ActorID)
	l.TenantID = optional(e.TenantID)
	l.ResourceType = optional(e.ResourceType)
	l.ResourceID = optional(e.ResourceID)
	l.IPAddress = optional(e.IPAddress)
	return l
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
