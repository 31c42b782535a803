// Package tenants is the tenant registry: the directory of tenant
// identities and the slug resolution inbound routing depends on. The
// per-tenant processing profile (synonyms, thresholds, budgets) lives in
// the YAML profiles loaded by pkg/config, keyed by the slug stored here.
package tenants

import (
	"time"
)

// Status represents the current status of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Tenant is one customer organization using the intake pipeline. The slug
// addresses the tenant in inbound email (orders+<slug>@...) and export
// paths; it never changes after creation.
type Tenant struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive returns true if the tenant accepts inbound documents.
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive
}
