package membership

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/learnhub/membership-service/internal/db/models"
	"github.com/learnhub/membership-service/internal/db/repositories"
	"github.com/learnhub/membership-service/internal/identity"
	"github.com/learnhub/membership-service/internal/identity/memory"
	"github.com/learnhub/membership-service/internal/lock"
)

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// memStore mirrors MembershipRepository semantics, including the
// (tenant_id, email) unique constraint.
type memStore struct {
	mu   sync.Mutex
	rows map[string]*models.Membership

	insertErr error
	updateErr error

	inserts int
	updates int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*models.Membership)}
}

func (s *memStore) FindByEmail(_ context.Context, email string) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = models.NormalizeEmail(email)

	var best *models.Membership
	for _, m := range s.rows {
		if m.Email != email {
			continue
		}
		if best == nil ||
			(m.IsActive && !best.IsActive) ||
			(m.IsActive == best.IsActive && m.UpdatedAt.After(best.UpdatedAt)) {
			best = m
		}
	}
	return clone(best), nil
}

func (s *memStore) FindByTenantAndEmail(_ context.Context, tenantID, email string) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = models.NormalizeEmail(email)
	for _, m := range s.rows {
		if m.TenantID == tenantID && m.Email == email {
			return clone(m), nil
		}
	}
	return nil, nil
}

func (s *memStore) FindByID(_ context.Context, id string) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.rows[id]), nil
}

func (s *memStore) Insert(_ context.Context, m *models.Membership) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	out := *m
	out.Email = models.NormalizeEmail(m.Email)
	for _, r := range s.rows {
		if r.TenantID == out.TenantID && r.Email == out.Email {
			return nil, fmt.Errorf("failed to insert membership: %w", repositories.ErrDuplicateMembership)
		}
	}
	out.ID = uuid.New().String()
	out.CreatedAt = time.Now()
	out.UpdatedAt = out.CreatedAt
	s.rows[out.ID] = &out
	s.inserts++
	return clone(&out), nil
}

func (s *memStore) Update(_ context.Context, id string, upd models.MembershipUpdate) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	m, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	if upd.Email != nil {
		email := models.NormalizeEmail(*upd.Email)
		upd.Email = &email
	}
	upd.Apply(m)
	m.UpdatedAt = time.Now()
	s.updates++
	return clone(m), nil
}

func (s *memStore) ListByIdentity(_ context.Context, identityID string) ([]*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Membership, 0)
	for _, m := range s.rows {
		if m.IdentityID == identityID {
			out = append(out, clone(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IsActive && !out[j].IsActive })
	return out, nil
}

// UpdateEmailByIdentity is all-or-nothing, like the single UPDATE statement it stands in for
func (s *memStore) UpdateEmailByIdentity(_ context.Context, identityID, email string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	email = models.NormalizeEmail(email)

	var moving []*models.Membership
	for _, m := range s.rows {
		if m.IdentityID == identityID && m.Email != email {
			moving = append(moving, m)
		}
	}
	for _, m := range moving {
		for _, r := range s.rows {
			if r.TenantID == m.TenantID && r.Email == email && r.ID != m.ID {
				return 0, fmt.Errorf("failed to update identity memberships: %w", repositories.ErrDuplicateMembership)
			}
		}
	}
	for _, m := range moving {
		m.Email = email
		m.UpdatedAt = time.Now()
	}
	s.updates += len(moving)
	return int64(len(moving)), nil
}

func (s *memStore) ListByTenant(_ context.Context, tenantID string, includeInactive bool) ([]*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Membership, 0)
	for _, m := range s.rows {
		if m.TenantID == tenantID && (m.IsActive || includeInactive) {
			out = append(out, clone(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

func (s *memStore) CountActiveByTenant(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.rows {
		if m.TenantID == tenantID && m.IsActive {
			n++
		}
	}
	return n, nil
}

// snapshot returns copies of every row, keyed by id
func (s *memStore) snapshot() map[string]models.Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.Membership, len(s.rows))
	for id, m := range s.rows {
		out[id] = *m
	}
	return out
}

func (s *memStore) mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts + s.updates
}

func clone(m *models.Membership) *models.Membership {
	if m == nil {
		return nil
	}
	out := *m
	return &out
}

// ---------------------------------------------------------------------------
// Identity provider with injectable failures
// ---------------------------------------------------------------------------

type scriptedIdentities struct {
	*memory.Provider

	mu               sync.Mutex
	deleteErr        error
	metadataErr      error
	hideFromLookup   bool
	changeEmailCalls int
	deletes          int
}

func newScriptedIdentities() *scriptedIdentities {
	return &scriptedIdentities{Provider: memory.New()}
}

func (p *scriptedIdentities) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	p.mu.Lock()
	hide := p.hideFromLookup
	p.mu.Unlock()
	if hide {
		return nil, nil
	}
	return p.Provider.FindByEmail(ctx, email)
}

func (p *scriptedIdentities) UpdateMetadata(ctx context.Context, id string, md identity.Metadata) error {
	if p.metadataErr != nil {
		return p.metadataErr
	}
	return p.Provider.UpdateMetadata(ctx, id, md)
}

func (p *scriptedIdentities) ChangeEmail(ctx context.Context, id, newEmail string) error {
	p.mu.Lock()
	p.changeEmailCalls++
	p.mu.Unlock()
	return p.Provider.ChangeEmail(ctx, id, newEmail)
}

func (p *scriptedIdentities) Delete(ctx context.Context, id string) error {
	p.mu.Lock()
	p.deletes++
	err := p.deleteErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.Provider.Delete(ctx, id)
}

// ---------------------------------------------------------------------------
// Side-effect recorders
// ---------------------------------------------------------------------------

type sentInvitation struct {
	email      string
	credential string
}

type recordingNotifier struct {
	mu           sync.Mutex
	invitations  []sentInvitation
	reactivation []string
}

func (n *recordingNotifier) SendInvitation(_ context.Context, m *models.Membership, credential string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.invitations = append(n.invitations, sentInvitation{email: m.Email, credential: credential})
	return nil
}

func (n *recordingNotifier) SendReactivation(_ context.Context, m *models.Membership) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reactivation = append(n.reactivation, m.Email)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type failingProfiles struct{}

func (failingProfiles) Upsert(context.Context, *models.Profile) error {
	return fmt.Errorf("profiles table unavailable")
}

type recordingProfiles struct {
	mu       sync.Mutex
	profiles map[string]models.Profile
}

func (r *recordingProfiles) Upsert(_ context.Context, p *models.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profiles == nil {
		r.profiles = make(map[string]models.Profile)
	}
	r.profiles[p.IdentityID] = *p
	return nil
}

type staticTenants map[string]bool

func (t staticTenants) GetByID(_ context.Context, id string) (*models.Tenant, error) {
	if !t[id] {
		return nil, nil
	}
	return &models.Tenant{ID: id, Name: id}, nil
}

type fixedSeats struct{ err error }

func (f fixedSeats) CheckSeat(context.Context, string) error { return f.err }

type timeoutLocker struct{}

func (timeoutLocker) Acquire(context.Context, string) (lock.Release, error) {
	return nil, lock.ErrLockTimeout
}

type recordingLocker struct {
	lock.Locker

	mu   sync.Mutex
	keys []string
}

func (l *recordingLocker) Acquire(ctx context.Context, key string) (lock.Release, error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return l.Locker.Acquire(ctx, key)
}

func (l *recordingLocker) acquired() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.keys...)
}

func (l *recordingLocker) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	svc        *Service
	store      *memStore
	identities *scriptedIdentities
	notifier   *recordingNotifier
	events     *recordingPublisher
	profiles   *recordingProfiles
}

func newHarness(opts ...func(*Deps)) *harness {
	h := &harness{
		store:      newMemStore(),
		identities: newScriptedIdentities(),
		notifier:   &recordingNotifier{},
		events:     &recordingPublisher{},
		profiles:   &recordingProfiles{},
	}
	d := Deps{
		Store:      h.store,
		Identities: h.identities,
		Profiles:   h.profiles,
		Tenants:    staticTenants{"T1": true, "T2": true},
		Locker:     lock.NewLocal(time.Second),
		Notifier:   h.notifier,
		Events:     h.events,
	}
	for _, opt := range opts {
		opt(&d)
	}
	h.svc = NewService(d)
	return h
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func identityMetadata(tenantID string) identity.Metadata {
	return identity.Metadata{Role: models.RoleCollaborator, TenantID: tenantID}
}
