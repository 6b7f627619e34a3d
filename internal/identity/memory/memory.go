// Package memory implements an in-process identity provider for development and tests.
// State is lost on restart; initial credentials are kept only as bcrypt hashes.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/learnhub/membership-service/internal/config"
	"github.com/learnhub/membership-service/internal/db/models"
	"github.com/learnhub/membership-service/internal/identity"
)

func init() {
	identity.Register("memory", func(_ *config.Config) (identity.Provider, error) {
		return New(), nil
	})
}

type record struct {
	identity       identity.Identity
	credentialHash []byte
}

// Provider is a mutex-guarded identity store keyed by ID and normalized email
type Provider struct {
	mu      sync.RWMutex
	byID    map[string]*record
	byEmail map[string]string
	now     func() time.Time
}

// New creates an empty in-memory provider
func New() *Provider {
	return &Provider{
		byID:    make(map[string]*record),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

// FindByEmail returns the identity registered for email, or nil
func (p *Provider) FindByEmail(_ context.Context, email string) (*identity.Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	id, ok := p.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	out := p.byID[id].identity
	return &out, nil
}

// Get returns the identity with the given ID, or nil
func (p *Provider) Get(_ context.Context, id string) (*identity.Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.byID[id]
	if !ok {
		return nil, nil
	}
	out := rec.identity
	return &out, nil
}

// Create registers a new identity
func (p *Provider) Create(_ context.Context, email, initialCredential string, md identity.Metadata) (*identity.Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(initialCredential), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash initial credential: %w", err)
	}

	key := models.NormalizeEmail(email)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, taken := p.byEmail[key]; taken {
		return nil, identity.ErrEmailConflict
	}

	now := p.now()
	md.UpdatedAt = now
	rec := &record{
		identity: identity.Identity{
			ID:        uuid.New().String(),
			Email:     key,
			Metadata:  md,
			CreatedAt: now,
		},
		credentialHash: hash,
	}
	p.byID[rec.identity.ID] = rec
	p.byEmail[key] = rec.identity.ID

	out := rec.identity
	return &out, nil
}

// UpdateMetadata overwrites the cached metadata
func (p *Provider) UpdateMetadata(_ context.Context, id string, md identity.Metadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	md.UpdatedAt = p.now()
	rec.identity.Metadata = md
	return nil
}

// ChangeEmail moves the identity to newEmail
func (p *Provider) ChangeEmail(_ context.Context, id, newEmail string) error {
	key := models.NormalizeEmail(newEmail)

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	if owner, taken := p.byEmail[key]; taken {
		if owner == id {
			return nil
		}
		return identity.ErrEmailConflict
	}
	delete(p.byEmail, rec.identity.Email)
	rec.identity.Email = key
	p.byEmail[key] = id
	return nil
}

// Delete removes the identity
func (p *Provider) Delete(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	delete(p.byEmail, rec.identity.Email)
	delete(p.byID, id)
	return nil
}

// VerifyCredential reports whether credential matches the identity's stored hash
func (p *Provider) VerifyCredential(id, credential string) bool {
	p.mu.RLock()
	rec, ok := p.byID[id]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(rec.credentialHash, []byte(credential)) == nil
}

// Count returns the number of stored identities
func (p *Provider) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}
