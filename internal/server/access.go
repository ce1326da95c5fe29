package server

import (
	"strings"

	"propman/internal/auth"
)

const RolePublic = "PUBLIC"

// RoleAuthenticated matches any fully authenticated identity.
const RoleAuthenticated = "AUTHENTICATED"

type AccessRule struct {
	Prefix string
	Roles  []string
}

// accessRules maps URL prefixes to the roles allowed below them. Prefixes
// are disjoint, so order does not matter. Paths outside every prefix fall
// back to defaultAccess.
var accessRules = []AccessRule{
	{Prefix: "/api/auth", Roles: []string{RolePublic}},
	{Prefix: "/api/public", Roles: []string{RolePublic}},
	{Prefix: "/api/admin", Roles: []string{string(auth.RoleAdmin)}},
	{Prefix: "/api/agent", Roles: []string{string(auth.RoleAdmin), string(auth.RoleAgent)}},
	{Prefix: "/api/client", Roles: []string{string(auth.RoleAdmin), string(auth.RoleAgent), string(auth.RoleClient)}},
}

var defaultAccess = []string{RoleAuthenticated}

func accessRoles(path string) []string {
	for _, rule := range accessRules {
		if matchPrefix(path, rule.Prefix) {
			return rule.Roles
		}
	}
	return defaultAccess
}

// matchPrefix matches whole path segments: /api/admin matches /api/admin
// and /api/admin/users but not /api/administrators.
func matchPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func roleAllowed(roles []string, role string) bool {
	for _, r := range roles {
		if r == role || r == RoleAuthenticated {
			return true
		}
	}
	return false
}

func isPublicAccess(roles []string) bool {
	for _, r := range roles {
		if r == RolePublic {
			return true
		}
	}
	return false
}
