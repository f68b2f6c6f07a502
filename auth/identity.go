package auth

import (
	"slices"
	"time"
)

// Method names the credential that produced an Identity.
type Method string

const (
	MethodAPIKey Method = "api_key"
	MethodJWT    Method = "jwt"
)

// Roles understood by the HTTP API.
const (
	// RoleSender may submit sends.
	RoleSender = "sender"
	// RoleViewer may read send and circuit status.
	RoleViewer = "viewer"
)

// Identity is an authenticated caller.
type Identity struct {
	Principal string
	Roles     []string
	Method    Method

	// KeyID is the API key id, empty for JWT callers.
	KeyID string

	ExpiresAt time.Time
}

// HasRole reports whether the identity carries role. RoleSender implies
// RoleViewer.
func (id *Identity) HasRole(role string) bool {
	if id == nil {
		return false
	}
	if slices.Contains(id.Roles, role) {
		return true
	}
	return role == RoleViewer && slices.Contains(id.Roles, RoleSender)
}

// Expired reports whether the identity is past ExpiresAt at now.
func (id *Identity) Expired(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && now.After(id.ExpiresAt)
}
