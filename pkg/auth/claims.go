package auth

import (
	"strings"
)

// ClaimsExtractor maps token claims onto a UserContext.
type ClaimsExtractor struct {
	// RoleClaimPath is the dot-separated path to roles in claims,
	// e.g. "realm_access.roles" or "roles".
	RoleClaimPath string

	// RolePrefix keeps only roles starting with this prefix.
	RolePrefix string

	NameClaimPath    string
	SubjectClaimPath string
}

// Extract builds a user context from claims.
func (e *ClaimsExtractor) Extract(claims map[string]any) *UserContext {
	uc := &UserContext{
		UserID: stringAt(claims, e.SubjectClaimPath),
		Name:   stringAt(claims, e.NameClaimPath),
		Claims: claims,
	}
	if e.RoleClaimPath != "" {
		roles := stringsAt(claims, e.RoleClaimPath)
		if e.RolePrefix != "" {
			roles = filterByPrefix(roles, e.RolePrefix)
		}
		uc.Roles = roles
	}
	return uc
}

func stringAt(claims map[string]any, path string) string {
	if s, ok := valueAt(claims, path).(string); ok {
		return s
	}
	return ""
}

func stringsAt(claims map[string]any, path string) []string {
	switch v := valueAt(claims, path).(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		// Space-delimited, as in OAuth scope claims.
		return strings.Fields(v)
	default:
		return nil
	}
}

// valueAt walks a dot-separated path through nested maps.
func valueAt(claims map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var current any = claims
	for part := range strings.SplitSeq(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func filterByPrefix(items []string, prefix string) []string {
	result := make([]string, 0, len(items))
	for _, item := range items {
		if strings.HasPrefix(item, prefix) {
			result = append(result, item)
		}
	}
	return result
}
