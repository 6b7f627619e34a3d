package membership

import (
	"context"
	"time"

	"github.com/learnhub/membership-service/internal/db/models"
)

// Store is the membership table. Lookups return nil, nil when nothing matches.
// Implemented by repositories.MembershipRepository.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*models.Membership, error)
	FindByTenantAndEmail(ctx context.Context, tenantID, email string) (*models.Membership, error)
	FindByID(ctx context.Context, id string) (*models.Membership, error)
	ListByIdentity(ctx context.Context, identityID string) ([]*models.Membership, error)
	Insert(ctx context.Context, m *models.Membership) (*models.Membership, error)
	Update(ctx context.Context, id string, upd models.MembershipUpdate) (*models.Membership, error)
	UpdateEmailByIdentity(ctx context.Context, identityID, email string) (int64, error)
	ListByTenant(ctx context.Context, tenantID string, includeInactive bool) ([]*models.Membership, error)
	CountActiveByTenant(ctx context.Context, tenantID string) (int, error)
}

// ProfileCache receives the derived role record after a membership is written
type ProfileCache interface {
	Upsert(ctx context.Context, p *models.Profile) error
}

// TenantDirectory resolves tenant ids
type TenantDirectory interface {
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
}

// SeatChecker rejects additions that would exceed the tenant's plan
type SeatChecker interface {
	CheckSeat(ctx context.Context, tenantID string) error
}

// Notifier sends membership emails
type Notifier interface {
	SendInvitation(ctx context.Context, m *models.Membership, initialCredential string) error
	SendReactivation(ctx context.Context, m *models.Membership) error
}

// Lifecycle event types
const (
	EventMemberAdded        = "member.added"
	EventMemberReactivated  = "member.reactivated"
	EventMemberEmailChanged = "member.email_changed"
	EventMemberUpdated      = "member.updated"
	EventMemberDeactivated  = "member.deactivated"
)

// Event describes a completed membership mutation
type Event struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Membership    models.Membership `json:"membership"`
	PreviousEmail string            `json:"previous_email,omitempty"`
}

// Publisher delivers lifecycle events
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type noopNotifier struct{}

func (noopNotifier) SendInvitation(context.Context, *models.Membership, string) error { return nil }
func (noopNotifier) SendReactivation(context.Context, *models.Membership) error       { return nil }

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }
