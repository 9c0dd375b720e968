/*
Package user derives the identity of a connected participant from their token.

An Identity is what the server knows before the profile document is loaded: the
document id, the role and the provider-side name and email used to seed a new profile.
*/
package user

import (
	"dospill/internal/app/store"
	"dospill/internal/pkg/auth/jwt"
)

// Identity is a verified token subject.
type Identity struct {
	// ID is the user document id. Empty for admins.
	ID string `json:"id,omitempty"`

	// Role is guest, registered or admin.
	Role string `json:"role"`

	// Email is set for registered users only.
	Email string `json:"email,omitempty"`

	// DisplayName is the provider-side name, if any.
	DisplayName string `json:"displayName,omitempty"`
}

// FromPayload converts verified token claims into an Identity.
func FromPayload(p *jwt.Payload) Identity {
	if p == nil {
		return Identity{}
	}
	return Identity{
		ID:          p.ID,
		Role:        p.Role,
		Email:       p.Email,
		DisplayName: p.DisplayName,
	}
}

// IsGuest reports whether the identity is an anonymous guest.
func (i Identity) IsGuest() bool { return i.Role == jwt.RoleGuest }

// IsAdmin reports whether the identity holds an admin session.
func (i Identity) IsAdmin() bool { return i.Role == jwt.RoleAdmin }

// Seed is the profile created on first sign-in. Guests never carry an email.
func (i Identity) Seed() store.User {
	u := store.User{ID: i.ID, DisplayName: i.DisplayName}
	if !i.IsGuest() {
		u.Email = i.Email
	}
	return u
}
