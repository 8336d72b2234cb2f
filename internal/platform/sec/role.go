// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

// # User Roles

// UserRole represents the authorization level granted to a caller.
type UserRole string

const (
	// Unrestricted system access
	RoleAdmin UserRole = "admin"

	// Full read/write on granted collections, procedure execution
	RoleDev UserRole = "dev"

	// Read plus aggregate access for reporting workloads
	RoleAnalyst UserRole = "analyst"

	// Default role for standard authenticated callers
	RoleUser UserRole = "user"

	// Unauthenticated requests; only explicitly public descriptors
	RoleAnonymous UserRole = "anonymous"
)

// # Role Hierarchy

// AtLeast checks if the current role meets or exceeds the required target role.
func (r UserRole) AtLeast(target UserRole) bool {
	return r.level() >= target.level()
}

// Inherits returns the chain of roles whose grants this role absorbs,
// from the role itself down to the weakest.
//
// Descriptor permission lists name single roles; inheritance means granting
// an operation to "user" also grants it to "analyst", "dev", and "admin".
func (r UserRole) Inherits() []UserRole {
	chain := []UserRole{RoleAdmin, RoleDev, RoleAnalyst, RoleUser, RoleAnonymous}
	for i, role := range chain {
		if role == r {
			return chain[i:]
		}
	}
	return []UserRole{r}
}

// level maps a role to a numeric hierarchy level for comparison logic.
func (r UserRole) level() int {

	// Linear scale (10-50) allows for future intermediate roles
	switch r {
	case RoleAdmin:
		return 50
	case RoleDev:
		return 40
	case RoleAnalyst:
		return 30
	case RoleUser:
		return 20
	case RoleAnonymous:
		return 10
	default:
		return 0
	}
}
