// Package audit records membership mutations. Entries are written to the audit_logs
// table and fanned out to any configured external destinations (webhook, append-only
// file, S3 archive) through the Shipper interface.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/learnhub/membership-service/internal/config"
)

// LogEntry is the shipped form of an audit record
type LogEntry struct {
	Timestamp    time.Time              `json:"timestamp"`
	Action       string                 `json:"action"`
	ActorID      string                 `json:"actor_id,omitempty"`
	TenantID     string                 `json:"tenant_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	StatusCode   int                    `json:"status_code,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Shipper sends audit entries to an external destination
type Shipper interface {
	Ship(ctx context.Context, entry *LogEntry) error
	Close() error
}

// MultiShipper ships to every configured destination
type MultiShipper struct {
	shippers []Shipper
}

// NewMultiShipper builds the enabled shippers from config. S3 shippers load AWS
// credentials from the default chain, which is why ctx is needed.
func NewMultiShipper(ctx context.Context, configs []config.AuditShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var (
			shipper Shipper
			err     error
		)
		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File)
		case "s3":
			if cfg.S3 == nil {
				return nil, fmt.Errorf("s3 config is required for s3 shipper")
			}
			shipper, err = NewS3Shipper(ctx, cfg.S3)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}
		if err != nil {
			_ = ms.Close()
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}

		ms.shippers = append(ms.shippers, shipper)
	}

	return ms, nil
}

// Len returns the number of active shippers
func (ms *MultiShipper) Len() int {
	return len(ms.shippers)
}

// Ship sends an entry to every shipper, continuing past failures
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	var errs []error
	for _, s := range ms.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			slog.Warn("audit shipper failed", "action", entry.Action, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every shipper
func (ms *MultiShipper) Close() error {
	var errs []error
	for _, s := range ms.shippers {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
