package jwt

import (
	"errors"

	"github.com/golang-jwt/jwt"
)

// Roles carried in Payload.Role.
const (
	RoleGuest      = "guest"
	RoleRegistered = "registered"
	RoleAdmin      = "admin"
)

// Payload is the claim set of every DoSpill token.
//
// User tokens identify a chat participant (guest or registered); registered-user
// tokens are minted by the identity provider with the shared secret. Admin tokens
// are the session-scoped admin flag issued by the credential check and carry no ID.
type Payload struct {
	jwt.StandardClaims

	// ID is the user document id. Empty for admin tokens.
	ID string `json:"id,omitempty"`

	// Role is one of RoleGuest, RoleRegistered, RoleAdmin.
	Role string `json:"role"`

	// Email is set for registered users only.
	Email string `json:"email,omitempty"`

	// DisplayName is the provider-side name, used to seed a new profile.
	DisplayName string `json:"display_name,omitempty"`
}

// Valid applies the standard time checks and additionally requires an expiry.
func (p *Payload) Valid() error {
	if p.ExpiresAt == 0 {
		return errors.New("token has no expiry")
	}
	return p.StandardClaims.Valid()
}

// IsAdmin reports whether the token grants admin access.
func (p *Payload) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// IsUser reports whether the token identifies a chat participant.
func (p *Payload) IsUser() bool {
	return p != nil && p.ID != "" && (p.Role == RoleGuest || p.Role == RoleRegistered)
}
