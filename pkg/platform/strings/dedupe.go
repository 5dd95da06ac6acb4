// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "  "})
//	// Returns: []string{"foo", "bar"}
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

// SplitLines splits a textarea-style multi-line input into trimmed, non-empty
// lines. Duplicates are kept; callers that care report them separately.
func SplitLines(input string) []string {
	lines := strings.Split(input, "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}

// Duplicates returns the values that appear more than once, each reported a
// single time, in first-repeat order.
func Duplicates(values []string) []string {
	seen := make(map[string]int, len(values))
	var result []string
	for _, v := range values {
		seen[v]++
		if seen[v] == 2 {
			result = append(result, v)
		}
	}
	return result
}
