// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package middleware_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mongate/internal/platform/apperr"
	"github.com/taibuivan/mongate/internal/platform/middleware"
)

/*
TestGuard_AllowedOperations walks the default method→operation table.
*/
func TestGuard_AllowedOperations(t *testing.T) {
	guard := middleware.NewGuard(true)

	allowed := []struct{ method, operation string }{
		{http.MethodGet, "find"},
		{http.MethodGet, "findOne"},
		{http.MethodGet, "countDocuments"},
		{http.MethodGet, "distinct"},
		{http.MethodGet, "aggregate"},
		{http.MethodGet, "explain"},
		{http.MethodPost, "insertOne"},
		{http.MethodPost, "insertMany"},
		{http.MethodPost, "aggregate"},
		{http.MethodPut, "replaceOne"},
		{http.MethodPatch, "updateOne"},
		{http.MethodPatch, "updateMany"},
		{http.MethodDelete, "deleteOne"},
		{http.MethodDelete, "deleteMany"},
	}

	for _, tt := range allowed {
		assert.NoError(t, guard.Check(tt.method, tt.operation), "%s %s", tt.method, tt.operation)
	}
}

/*
TestGuard_MismatchSuggestsMethod covers scenario S6: a PUT carrying an
updateOne intent is rejected with the PATCH suggestion.
*/
func TestGuard_MismatchSuggestsMethod(t *testing.T) {
	guard := middleware.NewGuard(true)

	err := guard.Check(http.MethodPut, "updateOne")
	require.Error(t, err)

	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, apperr.KindMethodMismatch, ae.Kind)
	assert.Equal(t, http.StatusBadRequest, ae.HTTPStatus)
	assert.Contains(t, ae.Suggestion, "PATCH")

	err = guard.Check(http.MethodGet, "insertOne")
	require.Error(t, err)
	assert.Contains(t, apperr.As(err).Suggestion, "POST")
}

/*
TestGuard_NonStrictAllowsEverything checks that strict mode gates the table.
*/
func TestGuard_NonStrictAllowsEverything(t *testing.T) {
	guard := middleware.NewGuard(false)

	assert.NoError(t, guard.Check(http.MethodGet, "deleteMany"))
	assert.NoError(t, guard.Check(http.MethodPut, "updateOne"))
}

/*
TestGuard_CustomTable checks deployment-specific allowlists.
*/
func TestGuard_CustomTable(t *testing.T) {
	guard := middleware.NewGuardWithTable(true, map[string][]string{
		http.MethodGet: {"find"},
	})

	assert.NoError(t, guard.Check(http.MethodGet, "find"))
	assert.Error(t, guard.Check(http.MethodGet, "findOne"))
}
