// Package tenant defines the tenant domain model for multi-tenancy.
package tenant

import "time"

// Tenant represents an isolated merchant tenant in the system.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Paused    bool      `json:"paused"`
	Contact   Contact   `json:"contact"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Contact holds the reachable notification endpoints for a tenant's operator.
// Empty fields mean the channel is not available for this tenant.
type Contact struct {
	PushToken string `json:"push_token,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// AgeAt returns how long the tenant has existed as of now.
func (t *Tenant) AgeAt(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// CreateRequest holds the fields required to create a new tenant.
type CreateRequest struct {
	Name    string  `json:"name"`
	Slug    string  `json:"slug"`
	Contact Contact `json:"contact"`
}
