package fedauth

import (
	"slices"
	"strings"
)

// ParseScopes splits a scope list on spaces or commas and drops duplicates,
// keeping first-seen order.
func ParseScopes(scopeString string) []string {
	if scopeString == "" {
		return nil
	}
	fields := strings.FieldsFunc(scopeString, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
	seen := make(map[string]bool)
	result := make([]string, 0, len(fields))
	for _, s := range fields {
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}

// JoinScopes joins a slice of scopes into a space-separated string
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// MergeScopes returns base followed by any extra scopes not already present.
func MergeScopes(base []string, extra ...string) []string {
	out := slices.Clone(base)
	for _, s := range extra {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
