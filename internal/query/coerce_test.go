// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package query_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mongate/internal/query"
)

/*
TestCoerce_Scalars checks the wire-scalar coercion table.
*/
func TestCoerce_Scalars(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected any
	}{
		{"null_literal", "null", nil},
		{"true_literal", "true", true},
		{"false_literal", "false", false},
		{"integer", "42", int64(42)},
		{"negative_integer", "-7", int64(-7)},
		{"float", "3.14", 3.14},
		{"plain_string", "hello", "hello"},
		{"empty_string", "", ""},
		{"not_quite_number", "12abc", "12abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, query.Coerce(tt.raw))
		})
	}
}

/*
TestCoerce_HexIDsStayStrings verifies that 24-hex id-shaped strings are kept
as strings; only the pipeline compiler re-casts them against the descriptor.
*/
func TestCoerce_HexIDsStayStrings(t *testing.T) {
	hex := "507f1f77bcf86cd799439011"
	assert.Equal(t, hex, query.Coerce(hex))

	// One character short of an id shape stays a string too.
	assert.Equal(t, hex[:23], query.Coerce(hex[:23]))
}

/*
TestCoerce_Timestamps checks RFC 3339 and calendar-date parsing.
*/
func TestCoerce_Timestamps(t *testing.T) {
	value := query.Coerce("2024-12-01T10:30:00Z")
	parsed, ok := value.(time.Time)
	require.True(t, ok, "expected time.Time, got %T", value)
	assert.Equal(t, 2024, parsed.Year())

	value = query.Coerce("2024-12-01")
	parsed, ok = value.(time.Time)
	require.True(t, ok, "expected time.Time, got %T", value)
	assert.Equal(t, time.December, parsed.Month())
}

/*
TestCoerceList checks element-wise coercion of parenthesized literals.
*/
func TestCoerceList(t *testing.T) {
	values := query.CoerceList("(1,2.5,true,abc)")
	require.Len(t, values, 4)
	assert.Equal(t, int64(1), values[0])
	assert.Equal(t, 2.5, values[1])
	assert.Equal(t, true, values[2])
	assert.Equal(t, "abc", values[3])

	assert.Empty(t, query.CoerceList("()"))
}
