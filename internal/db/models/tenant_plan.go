// Package models - tenant_plan.go mirrors the billing processor's plan for a tenant
// so seat limits can be consulted without calling the processor.
package models

import "time"

// Plan statuses that permit adding members
const (
	PlanStatusActive   = "active"
	PlanStatusTrialing = "trialing"
)

// TenantPlan is the locally mirrored subscription plan of a tenant
type TenantPlan struct {
	TenantID  string    `db:"tenant_id"`
	PlanName  string    `db:"plan_name"`
	SeatLimit *int      `db:"seat_limit"` // nil means unlimited
	Status    string    `db:"status"`
	UpdatedAt time.Time `db:"updated_at"`
}

// AllowsNewSeats reports whether the plan status permits growing the member count
func (p *TenantPlan) AllowsNewSeats() bool {
	return p.Status == PlanStatusActive || p.Status == PlanStatusTrialing
}
