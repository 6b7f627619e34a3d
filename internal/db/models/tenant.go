// Package models - tenant.go defines the Tenant model, the company that owns memberships.
package models

import "time"

// Tenant represents a company on the platform
type Tenant struct {
	ID          string
	Name        string // URL-safe slug
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
