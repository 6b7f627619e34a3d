// Package identity defines the Provider interface for the system-wide authentication
// account store and the types shared by its backends.
//
// There is exactly one Identity per email address across every tenant. Backends
// register themselves with the factory from an init() function in their own package:
//
//	func init() {
//	    identity.Register("mybackend", func(cfg *config.Config) (identity.Provider, error) {
//	        return New(cfg)
//	    })
//	}
//
// cmd/server blank-imports each backend so the factory can dispatch on
// identity.backend.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmailConflict is returned when the email already belongs to another identity.
	ErrEmailConflict = errors.New("email already belongs to another identity")

	// ErrNotFound is returned by mutations addressed at an identity that does not exist.
	ErrNotFound = errors.New("identity not found")
)

// Metadata is the cached hint an identity carries about its latest membership.
// Last writer wins; the membership row is authoritative.
type Metadata struct {
	Role        string    `json:"role,omitempty"`
	TenantID    string    `json:"tenant_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Identity is an authentication account
type Identity struct {
	ID        string
	Email     string
	Metadata  Metadata
	CreatedAt time.Time
}

// Provider is the identity store consumed by the membership reconciler.
// Lookups return nil, nil when nothing matches.
type Provider interface {
	// FindByEmail returns the identity registered for email
	FindByEmail(ctx context.Context, email string) (*Identity, error)

	// Get returns the identity with the given ID
	Get(ctx context.Context, id string) (*Identity, error)

	// Create registers a new identity with a password credential the holder must
	// replace on first login. Returns ErrEmailConflict if the email is taken.
	Create(ctx context.Context, email, initialCredential string, md Metadata) (*Identity, error)

	// UpdateMetadata overwrites the cached metadata
	UpdateMetadata(ctx context.Context, id string, md Metadata) error

	// ChangeEmail moves the identity to newEmail. Returns ErrEmailConflict if another
	// identity already uses newEmail.
	ChangeEmail(ctx context.Context, id, newEmail string) error

	// Delete removes the identity. Only used to compensate a failed membership insert.
	Delete(ctx context.Context, id string) error
}
