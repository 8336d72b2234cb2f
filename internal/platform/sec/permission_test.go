// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taibuivan/mongate/internal/platform/sec"
)

/*
TestUserRole_AtLeast checks the hierarchy ordering.
*/
func TestUserRole_AtLeast(t *testing.T) {
	assert.True(t, sec.RoleAdmin.AtLeast(sec.RoleAnonymous))
	assert.True(t, sec.RoleDev.AtLeast(sec.RoleUser))
	assert.True(t, sec.RoleUser.AtLeast(sec.RoleUser))
	assert.False(t, sec.RoleUser.AtLeast(sec.RoleDev))
	assert.False(t, sec.RoleAnonymous.AtLeast(sec.RoleUser))

	// Unknown roles rank below anonymous.
	assert.False(t, sec.UserRole("mystery").AtLeast(sec.RoleAnonymous))
}

/*
TestPermissionSet_Grants checks explicit grant resolution and de-duplication.
*/
func TestPermissionSet_Grants(t *testing.T) {
	claims := &sec.AuthClaims{
		Role:        "user",
		Permissions: []string{"orders:find", "orders:find", " users:* ", "*:explain"},
		Collections: []string{"orders", "users"},
		Procedures:  []string{"settle"},
	}
	set := sec.NewPermissionSet(claims)

	assert.True(t, set.HasExplicit("orders", "find"))
	assert.False(t, set.HasExplicit("orders", "deleteOne"))
	assert.True(t, set.HasExplicit("users", "anything"))
	assert.True(t, set.HasExplicit("products", "explain"))

	assert.True(t, set.CollectionScoped())
	assert.True(t, set.InCollectionScope("orders"))
	assert.False(t, set.InCollectionScope("products"))

	assert.True(t, set.HasProcedure("settle"))
	assert.False(t, set.HasProcedure("other"))
}

/*
TestPermissionSet_Anonymous checks the nil-claims derivation.
*/
func TestPermissionSet_Anonymous(t *testing.T) {
	set := sec.NewPermissionSet(nil)

	assert.Equal(t, sec.RoleAnonymous, set.Role)
	assert.False(t, set.CollectionScoped())
	assert.True(t, set.InCollectionScope("anything"))
	assert.False(t, set.HasExplicit("orders", "find"))
}
