// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package convert provides quick type-conversion utilities.

It wraps standards like [strconv] to provide fault-tolerant conversions
(e.g., returning a default instead of an error when string parsing fails).
This is highly useful in API handler contexts parsing query parameters.

Do not use this package if distinguishing between malformed data and zero values
is important in your domain logic; use explicit standard libraries instead.
*/
package convert

import (
	"strconv"
)

// ToIntD converts a string to an int, returning def on failure.
func ToIntD(value string, def int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// ToInt64D converts a string to an int64, returning def on failure.
func ToInt64D(value string, def int64) int64 {
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

// ToBoolD converts a string to a bool, returning def on failure.
func ToBoolD(value string, def bool) bool {
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}
