// Package membership reconciles the system-wide identity of a person with their
// tenant-scoped membership rows.
//
// The identity provider and the membership table are independent stores with no
// shared transaction. Every mutation therefore looks state up before writing, and
// the only compensating action is deleting an identity this call itself created
// when the membership insert that was supposed to reference it fails.
//
// Mutations for one email are serialized by a lock.Locker; without Redis the lock
// is process-local.
package membership

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/learnhub/membership-service/internal/db/models"
	"github.com/learnhub/membership-service/internal/identity"
	"github.com/learnhub/membership-service/internal/lock"
	"github.com/learnhub/membership-service/internal/safego"
	"github.com/learnhub/membership-service/internal/telemetry"
)

const (
	opAdd           = "add"
	opChangeEmail   = "change_email"
	opUpdateProfile = "update_profile"
	opDeactivate    = "deactivate"

	rollbackTimeout         = 10 * time.Second
	defaultCredentialLength = 16
)

// Deps are the collaborators of a Service. Store and Identities are required;
// everything else has a no-op default.
type Deps struct {
	Store      Store
	Identities identity.Provider
	Profiles   ProfileCache
	Tenants    TenantDirectory
	Seats      SeatChecker
	Locker     lock.Locker
	Notifier   Notifier
	Events     Publisher

	// InitialCredentialLength is the length of generated first-login passwords
	InitialCredentialLength int
}

// Service implements the membership lifecycle operations
type Service struct {
	store            Store
	identities       identity.Provider
	profiles         ProfileCache
	tenants          TenantDirectory
	seats            SeatChecker
	locker           lock.Locker
	notifier         Notifier
	events           Publisher
	credentialLength int

	background safego.Group
}

// NewService creates a Service
func NewService(d Deps) *Service {
	s := &Service{
		store:            d.Store,
		identities:       d.Identities,
		profiles:         d.Profiles,
		tenants:          d.Tenants,
		seats:            d.Seats,
		locker:           d.Locker,
		notifier:         d.Notifier,
		events:           d.Events,
		credentialLength: d.InitialCredentialLength,
	}
	if s.locker == nil {
		s.locker = lock.Noop{}
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.events == nil {
		s.events = noopPublisher{}
	}
	if s.credentialLength == 0 {
		s.credentialLength = defaultCredentialLength
	}
	return s
}

// Wait blocks until queued notifications and events have been handed off
func (s *Service) Wait() {
	s.background.Wait()
}

// AddMemberInput is the request to add a person to a tenant
type AddMemberInput struct {
	TenantID    string
	Email       string
	DisplayName string
	Phone       *string
	Position    *string
}

// AddMemberResult is the membership after a successful add
type AddMemberResult struct {
	Membership     *models.Membership
	IsReactivation bool
}

// AddOrReactivateMember adds the person identified by email to the tenant, reusing or
// creating their identity, or reactivates their dormant membership in that tenant.
//
// An email that is active in the target tenant yields ErrAlreadyActiveMember, and
// one that is active in another tenant yields ErrCrossTenantConflict; neither mutates
// anything.
func (s *Service) AddOrReactivateMember(ctx context.Context, in AddMemberInput) (res *AddMemberResult, err error) {
	started := time.Now()
	defer func() {
		outcome := string(KindOf(err))
		if err == nil {
			outcome = "created"
			if res.IsReactivation {
				outcome = "reactivated"
			}
		}
		telemetry.ObserveOperation(opAdd, outcome, started)
	}()

	in.Email = models.NormalizeEmail(in.Email)
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := validateAddInput(in); err != nil {
		return nil, err
	}
	if err := s.requireTenant(ctx, in.TenantID); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	defer release()

	logger := slog.With("tenant_id", in.TenantID, "email", telemetry.MaskEmail(in.Email))

	existing, err := s.store.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, internalErr("failed to look up membership by email", err)
	}

	if existing != nil {
		switch {
		case existing.TenantID == in.TenantID && existing.IsActive:
			return nil, NewError(KindAlreadyActiveMember, nil)
		case existing.TenantID == in.TenantID:
			return s.reactivate(ctx, existing, in)
		case existing.IsActive:
			logger.Info("add rejected: email is active in another tenant", "other_tenant_id", existing.TenantID)
			return nil, NewError(KindCrossTenantConflict, nil)
		}

		// Only dormant rows elsewhere. The person may still have a dormant row here.
		own, err := s.store.FindByTenantAndEmail(ctx, in.TenantID, in.Email)
		if err != nil {
			return nil, internalErr("failed to look up tenant membership", err)
		}
		if own != nil {
			if own.IsActive {
				return nil, NewError(KindAlreadyActiveMember, nil)
			}
			return s.reactivate(ctx, own, in)
		}
	}

	return s.create(ctx, in, logger)
}

func (s *Service) reactivate(ctx context.Context, existing *models.Membership, in AddMemberInput) (*AddMemberResult, error) {
	if err := s.requireNotActiveElsewhere(ctx, existing.IdentityID, existing.TenantID); err != nil {
		return nil, err
	}
	if err := s.checkSeat(ctx, in.TenantID); err != nil {
		return nil, err
	}

	active, reset := true, false
	m, err := s.store.Update(ctx, existing.ID, models.MembershipUpdate{
		DisplayName:          &in.DisplayName,
		Phone:                in.Phone,
		Position:             in.Position,
		IsActive:             &active,
		NeedsCredentialReset: &reset,
	})
	if err != nil {
		return nil, internalErr("failed to reactivate membership", err)
	}
	if m == nil {
		return nil, NewError(KindMembershipNotFound, nil)
	}

	s.refreshIdentityMetadata(ctx, m)
	s.upsertProfile(ctx, m)

	slog.Info("membership reactivated", "membership_id", m.ID, "tenant_id", m.TenantID, "identity_id", m.IdentityID)

	s.publish(ctx, EventMemberReactivated, m, "")
	s.notify(ctx, "notify.reactivation", func(ctx context.Context) error {
		return s.notifier.SendReactivation(ctx, m)
	})

	return &AddMemberResult{Membership: m, IsReactivation: true}, nil
}

func (s *Service) create(ctx context.Context, in AddMemberInput, logger *slog.Logger) (*AddMemberResult, error) {
	if err := s.checkSeat(ctx, in.TenantID); err != nil {
		return nil, err
	}

	md := identity.Metadata{Role: models.RoleCollaborator, TenantID: in.TenantID, DisplayName: in.DisplayName}

	ident, err := s.identities.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, internalErr("failed to look up identity", err)
	}

	created := false
	var credential string
	if ident != nil {
		if err := s.requireNotActiveElsewhere(ctx, ident.ID, in.TenantID); err != nil {
			return nil, err
		}
		if err := s.identities.UpdateMetadata(ctx, ident.ID, md); err != nil {
			logger.Warn("failed to refresh identity metadata", "identity_id", ident.ID, "error", err)
		}
	} else {
		credential, err = identity.GenerateInitialCredential(s.credentialLength)
		if err != nil {
			return nil, internalErr("failed to generate initial credential", err)
		}
		ident, err = s.identities.Create(ctx, in.Email, credential, md)
		if errors.Is(err, identity.ErrEmailConflict) {
			// Someone created it between our lookup and create.
			return nil, NewError(KindConcurrentModification, err)
		}
		if err != nil {
			return nil, internalErr("failed to create identity", err)
		}
		created = true
	}

	m, err := s.store.Insert(ctx, &models.Membership{
		IdentityID:           ident.ID,
		TenantID:             in.TenantID,
		Email:                in.Email,
		DisplayName:          in.DisplayName,
		Phone:                in.Phone,
		Position:             in.Position,
		IsActive:             true,
		NeedsCredentialReset: created,
	})
	if err != nil {
		logger.Error("membership insert failed", "identity_id", ident.ID, "identity_created", created, "error", err)
		if created {
			s.rollbackIdentity(ctx, ident.ID, logger)
		}
		return nil, NewError(KindMembershipCreationFailed, err)
	}

	s.upsertProfile(ctx, m)

	logger.Info("membership created", "membership_id", m.ID, "identity_id", m.IdentityID, "identity_created", created)

	s.publish(ctx, EventMemberAdded, m, "")
	if created {
		s.notify(ctx, "notify.invitation", func(ctx context.Context) error {
			return s.notifier.SendInvitation(ctx, m, credential)
		})
	}

	return &AddMemberResult{Membership: m}, nil
}

// rollbackIdentity deletes an identity created by the current call. A failure is
// logged and counted; it never replaces the error returned to the caller.
func (s *Service) rollbackIdentity(ctx context.Context, identityID string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := s.identities.Delete(ctx, identityID); err != nil {
		telemetry.IdentityRollbacksTotal.WithLabelValues("failed").Inc()
		logger.Error("identity rollback failed; identity is orphaned", "identity_id", identityID, "error", err)
		return
	}
	telemetry.IdentityRollbacksTotal.WithLabelValues("deleted").Inc()
	logger.Warn("identity rolled back after failed membership insert", "identity_id", identityID)
}

// ChangeEmail moves the membership's identity to newEmail and then every membership
// row of that identity, in all tenants, so no row keeps an address the identity no
// longer has. When the identity already carries newEmail the provider call is
// skipped, so repeating a request that failed with ErrPartialEmailSync finishes it.
func (s *Service) ChangeEmail(ctx context.Context, membershipID, newEmail string) (m *models.Membership, err error) {
	started := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(KindOf(err))
		}
		telemetry.ObserveOperation(opChangeEmail, outcome, started)
	}()

	newEmail = models.NormalizeEmail(newEmail)
	if !validEmail(newEmail) {
		return nil, Invalid("new_email must be a valid email address")
	}

	current, err := s.store.FindByID(ctx, membershipID)
	if err != nil {
		return nil, internalErr("failed to look up membership", err)
	}
	if current == nil {
		return nil, NewError(KindMembershipNotFound, nil)
	}
	if current.Email == newEmail {
		return current, nil
	}

	oldEmail := current.Email
	release, err := s.acquire(ctx, oldEmail, newEmail)
	if err != nil {
		return nil, err
	}
	defer release()

	// The row may have changed while we waited for the locks.
	current, err = s.store.FindByID(ctx, membershipID)
	if err != nil {
		return nil, internalErr("failed to look up membership", err)
	}
	if current == nil {
		return nil, NewError(KindMembershipNotFound, nil)
	}
	if current.Email != oldEmail {
		return nil, NewError(KindConcurrentModification, nil)
	}

	logger := slog.With("membership_id", current.ID, "tenant_id", current.TenantID, "identity_id", current.IdentityID)

	taken, err := s.store.FindByEmail(ctx, newEmail)
	if err != nil {
		return nil, internalErr("failed to look up membership by email", err)
	}
	if taken != nil && taken.IdentityID != current.IdentityID {
		return nil, NewError(KindEmailConflict, nil)
	}

	ident, err := s.identities.Get(ctx, current.IdentityID)
	if err != nil {
		return nil, internalErr("failed to read identity", err)
	}
	if ident == nil {
		return nil, internalErr("membership references a missing identity", identity.ErrNotFound)
	}

	if ident.Email != newEmail {
		err := s.identities.ChangeEmail(ctx, ident.ID, newEmail)
		if errors.Is(err, identity.ErrEmailConflict) {
			return nil, NewError(KindEmailConflict, err)
		}
		if err != nil {
			return nil, internalErr("failed to change identity email", err)
		}
	} else {
		logger.Info("identity already carries the new email; syncing memberships only")
	}

	moved, err := s.store.UpdateEmailByIdentity(ctx, current.IdentityID, newEmail)
	var updated *models.Membership
	if err == nil {
		updated, err = s.store.FindByID(ctx, current.ID)
	}
	if err == nil && (updated == nil || updated.Email != newEmail) {
		err = errors.New("membership disappeared during email change")
	}
	if err != nil {
		telemetry.PartialEmailSyncsTotal.Inc()
		logger.Error("identity email changed but memberships were not updated", "error", err)
		return nil, NewError(KindPartialEmailSync, err)
	}

	logger.Info("membership email changed", "memberships_moved", moved)
	s.publish(ctx, EventMemberEmailChanged, updated, oldEmail)

	return updated, nil
}

// ProfileUpdate carries the tenant-owned fields a profile edit may change.
// Nil fields are left unchanged.
type ProfileUpdate struct {
	DisplayName *string
	Phone       *string
	Position    *string
	IsActive    *bool
}

// UpdateProfile applies field edits that do not involve the email address.
// Activating a dormant row is subject to the same seat and cross-tenant rules as
// AddOrReactivateMember.
func (s *Service) UpdateProfile(ctx context.Context, membershipID string, upd ProfileUpdate) (m *models.Membership, err error) {
	started := time.Now()
	op := opUpdateProfile
	if upd.IsActive != nil && !*upd.IsActive && upd.DisplayName == nil && upd.Phone == nil && upd.Position == nil {
		op = opDeactivate
	}
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(KindOf(err))
		}
		telemetry.ObserveOperation(op, outcome, started)
	}()

	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if name == "" {
			return nil, Invalid("name must not be empty")
		}
		upd.DisplayName = &name
	}
	if upd.DisplayName == nil && upd.Phone == nil && upd.Position == nil && upd.IsActive == nil {
		return nil, Invalid("no fields to update")
	}

	current, err := s.store.FindByID(ctx, membershipID)
	if err != nil {
		return nil, internalErr("failed to look up membership", err)
	}
	if current == nil {
		return nil, NewError(KindMembershipNotFound, nil)
	}

	release, err := s.acquire(ctx, current.Email)
	if err != nil {
		return nil, err
	}
	defer release()

	activating := upd.IsActive != nil && *upd.IsActive && !current.IsActive
	if activating {
		other, err := s.store.FindByEmail(ctx, current.Email)
		if err != nil {
			return nil, internalErr("failed to look up membership by email", err)
		}
		if other != nil && other.IsActive && other.TenantID != current.TenantID {
			return nil, NewError(KindCrossTenantConflict, nil)
		}
		if err := s.requireNotActiveElsewhere(ctx, current.IdentityID, current.TenantID); err != nil {
			return nil, err
		}
		if err := s.checkSeat(ctx, current.TenantID); err != nil {
			return nil, err
		}
	}

	updated, err := s.store.Update(ctx, current.ID, models.MembershipUpdate{
		DisplayName: upd.DisplayName,
		Phone:       upd.Phone,
		Position:    upd.Position,
		IsActive:    upd.IsActive,
	})
	if err != nil {
		return nil, internalErr("failed to update membership", err)
	}
	if updated == nil {
		return nil, NewError(KindMembershipNotFound, nil)
	}

	event := EventMemberUpdated
	if current.IsActive && !updated.IsActive {
		event = EventMemberDeactivated
	}
	if activating {
		s.refreshIdentityMetadata(ctx, updated)
		s.upsertProfile(ctx, updated)
	}
	slog.Info("membership updated", "membership_id", updated.ID, "tenant_id", updated.TenantID, "event", event)
	s.publish(ctx, event, updated, "")

	return updated, nil
}

// Deactivate soft-removes the membership. The row and the identity are kept so the
// person can be reactivated later.
func (s *Service) Deactivate(ctx context.Context, membershipID string) (*models.Membership, error) {
	inactive := false
	return s.UpdateProfile(ctx, membershipID, ProfileUpdate{IsActive: &inactive})
}

// GetMember returns the membership with the given id
func (s *Service) GetMember(ctx context.Context, membershipID string) (*models.Membership, error) {
	m, err := s.store.FindByID(ctx, membershipID)
	if err != nil {
		return nil, internalErr("failed to look up membership", err)
	}
	if m == nil {
		return nil, NewError(KindMembershipNotFound, nil)
	}
	return m, nil
}

// ListMembers returns the tenant's memberships
func (s *Service) ListMembers(ctx context.Context, tenantID string, includeInactive bool) ([]*models.Membership, error) {
	if err := s.requireTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	members, err := s.store.ListByTenant(ctx, tenantID, includeInactive)
	if err != nil {
		return nil, internalErr("failed to list memberships", err)
	}
	return members, nil
}

func (s *Service) requireTenant(ctx context.Context, tenantID string) error {
	if s.tenants == nil {
		return nil
	}
	t, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return internalErr("failed to look up tenant", err)
	}
	if t == nil {
		return NewError(KindTenantNotFound, nil)
	}
	return nil
}

func (s *Service) checkSeat(ctx context.Context, tenantID string) error {
	if s.seats == nil {
		return nil
	}
	return s.seats.CheckSeat(ctx, tenantID)
}

// requireNotActiveElsewhere rejects activating a row for an identity that already
// holds an active membership in another tenant. Rows are matched by identity, so
// it also holds for rows that still carry an older email.
func (s *Service) requireNotActiveElsewhere(ctx context.Context, identityID, tenantID string) error {
	rows, err := s.store.ListByIdentity(ctx, identityID)
	if err != nil {
		return internalErr("failed to list identity memberships", err)
	}
	for _, m := range rows {
		if m.IsActive && m.TenantID != tenantID {
			slog.Info("activation rejected: identity is active in another tenant",
				"identity_id", identityID, "tenant_id", tenantID, "other_tenant_id", m.TenantID)
			return NewError(KindCrossTenantConflict, nil)
		}
	}
	return nil
}

// acquire locks every email in sorted order and returns one release for all of them
func (s *Service) acquire(ctx context.Context, emails ...string) (lock.Release, error) {
	keys := slices.Clone(emails)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	started := time.Now()
	releases := make([]lock.Release, 0, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	defer func() {
		telemetry.EmailLockWaitDuration.Observe(time.Since(started).Seconds())
	}()

	for _, key := range keys {
		release, err := s.locker.Acquire(ctx, key)
		if errors.Is(err, lock.ErrLockTimeout) {
			releaseAll()
			return nil, NewError(KindConcurrentModification, err)
		}
		if err != nil {
			releaseAll()
			return nil, internalErr("failed to acquire email lock", err)
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// refreshIdentityMetadata is best-effort: the metadata is a hint, the row is authoritative.
func (s *Service) refreshIdentityMetadata(ctx context.Context, m *models.Membership) {
	md := identity.Metadata{Role: models.RoleCollaborator, TenantID: m.TenantID, DisplayName: m.DisplayName}
	if err := s.identities.UpdateMetadata(ctx, m.IdentityID, md); err != nil {
		slog.Warn("failed to refresh identity metadata", "identity_id", m.IdentityID, "error", err)
	}
}

func (s *Service) upsertProfile(ctx context.Context, m *models.Membership) {
	if s.profiles == nil {
		return
	}
	tenantID := m.TenantID
	err := s.profiles.Upsert(ctx, &models.Profile{
		IdentityID:  m.IdentityID,
		Role:        models.RoleCollaborator,
		TenantID:    &tenantID,
		DisplayName: m.DisplayName,
	})
	if err != nil {
		slog.Warn("failed to upsert profile cache", "identity_id", m.IdentityID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, m *models.Membership, previousEmail string) {
	e := Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		OccurredAt:    time.Now().UTC(),
		Membership:    *m,
		PreviousEmail: previousEmail,
	}
	ctx = context.WithoutCancel(ctx)
	s.background.Go("publish."+eventType, func() {
		if err := s.events.Publish(ctx, e); err != nil {
			slog.Warn("failed to publish membership event", "type", e.Type, "membership_id", m.ID, "error", err)
		}
	})
}

func (s *Service) notify(ctx context.Context, name string, send func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	s.background.Go(name, func() {
		if err := send(ctx); err != nil {
			slog.Warn("failed to send membership notification", "task", name, "error", err)
		}
	})
}

func validateAddInput(in AddMemberInput) error {
	if in.TenantID == "" {
		return Invalid("tenant_id is required")
	}
	if !validEmail(in.Email) {
		return Invalid("email must be a valid email address")
	}
	if in.DisplayName == "" {
		return Invalid("name is required")
	}
	return nil
}

// validEmail accepts a bare address (no display name part)
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
