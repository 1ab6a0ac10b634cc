// Package user defines the authenticated caller model derived from Supabase access tokens.
package user

import (
	"github.com/golang-jwt/jwt/v5"
)

// Role represents the dashboard authorization level of a user.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleLeadOrganiser Role = "lead_organiser"
	RoleOrganiser     Role = "organiser"
	RoleDelegate      Role = "delegate"
	RoleViewer        Role = "viewer"
)

// ValidRoles is the set of all valid dashboard roles.
var ValidRoles = map[Role]bool{
	RoleAdmin:         true,
	RoleLeadOrganiser: true,
	RoleOrganiser:     true,
	RoleDelegate:      true,
	RoleViewer:        true,
}

// AppMetadata is the server-controlled metadata Supabase embeds in access tokens.
type AppMetadata struct {
	Role Role `json:"role,omitempty"`
}

// Claims are the Supabase access token claims the worker relies on.
// Subject carries the auth user id.
type Claims struct {
	jwt.RegisteredClaims
	Email       string      `json:"email,omitempty"`
	Role        string      `json:"role,omitempty"` // Postgres role, normally "authenticated"
	AppMetadata AppMetadata `json:"app_metadata"`
}

// DashboardRole returns the caller's dashboard role, defaulting to viewer.
func (c *Claims) DashboardRole() Role {
	if ValidRoles[c.AppMetadata.Role] {
		return c.AppMetadata.Role
	}
	return RoleViewer
}

// HasRole reports whether the caller holds at least one of roles.
func (c *Claims) HasRole(roles ...Role) bool {
	r := c.DashboardRole()
	for _, want := range roles {
		if r == want {
			return true
		}
	}
	return false
}
