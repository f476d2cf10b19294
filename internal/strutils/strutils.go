// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package strutils parses the space separated lists used by OAuth.
package strutils

import "strings"

// SplitScope returns the distinct values of an OAuth scope parameter in the
// order they first appear.
func SplitScope(scope string) []string {
	return Distinct(strings.Fields(scope))
}

// Distinct drops empty and repeated values, keeping the first occurrence of
// each.  Values are compared after trimming surrounding space.
func Distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		k := strings.TrimSpace(v)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}
