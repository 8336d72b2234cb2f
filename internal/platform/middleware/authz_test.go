// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package middleware_test

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mongate/internal/platform/apperr"
	"github.com/taibuivan/mongate/internal/platform/middleware"
	"github.com/taibuivan/mongate/internal/platform/sec"
	"github.com/taibuivan/mongate/internal/schema"
)

func claimsWith(role string, grants ...string) *sec.AuthClaims {
	return &sec.AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"},
		Role:             role,
		Permissions:      grants,
	}
}

func ordersDescriptor() *schema.CollectionDescriptor {
	return &schema.CollectionDescriptor{
		Name: "orders",
		Properties: map[string]*schema.PropertySchema{
			"orderNumber": {Type: "string"},
		},
		Permissions: map[string][]string{
			"find":      {"anonymous"},
			"insertOne": {"user"},
			"deleteOne": {"dev"},
		},
	}
}

/*
TestAuthorizeCollection walks role inheritance, explicit grants, and scoping.
*/
func TestAuthorizeCollection(t *testing.T) {
	descriptor := ordersDescriptor()

	t.Run("anonymous_read_allowed", func(t *testing.T) {
		set := sec.NewPermissionSet(nil)
		assert.NoError(t, middleware.AuthorizeCollection(set, descriptor, "find"))
	})

	t.Run("anonymous_write_denied", func(t *testing.T) {
		set := sec.NewPermissionSet(nil)
		err := middleware.AuthorizeCollection(set, descriptor, "insertOne")
		require.Error(t, err)
		assert.Equal(t, apperr.KindAuthorization, apperr.As(err).Kind)
	})

	t.Run("role_inheritance", func(t *testing.T) {
		// dev inherits the user grant; user does not reach the dev grant.
		dev := sec.NewPermissionSet(claimsWith("dev"))
		assert.NoError(t, middleware.AuthorizeCollection(dev, descriptor, "insertOne"))
		assert.NoError(t, middleware.AuthorizeCollection(dev, descriptor, "deleteOne"))

		user := sec.NewPermissionSet(claimsWith("user"))
		assert.Error(t, middleware.AuthorizeCollection(user, descriptor, "deleteOne"))
	})

	t.Run("admin_bypasses", func(t *testing.T) {
		admin := sec.NewPermissionSet(claimsWith("admin"))
		assert.NoError(t, middleware.AuthorizeCollection(admin, descriptor, "updateMany"))
	})

	t.Run("explicit_grant_beats_role_table", func(t *testing.T) {
		set := sec.NewPermissionSet(claimsWith("user", "orders:deleteOne"))
		assert.NoError(t, middleware.AuthorizeCollection(set, descriptor, "deleteOne"))

		wildcard := sec.NewPermissionSet(claimsWith("user", "*:deleteOne"))
		assert.NoError(t, middleware.AuthorizeCollection(wildcard, descriptor, "deleteOne"))
	})

	t.Run("collection_scope_restricts", func(t *testing.T) {
		claims := claimsWith("user")
		claims.Collections = []string{"users"}
		set := sec.NewPermissionSet(claims)

		err := middleware.AuthorizeCollection(set, descriptor, "find")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "outside your token's scope")
	})
}

/*
TestAuthorizeProcedure checks execute permissions.
*/
func TestAuthorizeProcedure(t *testing.T) {
	descriptor := &schema.ProcedureDescriptor{
		Name:        "settle",
		Permissions: []string{"dev"},
	}

	assert.NoError(t, middleware.AuthorizeProcedure(sec.NewPermissionSet(claimsWith("admin")), descriptor))
	assert.NoError(t, middleware.AuthorizeProcedure(sec.NewPermissionSet(claimsWith("dev")), descriptor))
	assert.Error(t, middleware.AuthorizeProcedure(sec.NewPermissionSet(claimsWith("user")), descriptor))

	claims := claimsWith("user")
	claims.Procedures = []string{"settle"}
	assert.NoError(t, middleware.AuthorizeProcedure(sec.NewPermissionSet(claims), descriptor))
}
