package auth

import "strings"

// ClaimsExtractor extracts identity fields from JWT claims.
type ClaimsExtractor struct {
	// RoleClaimPath is the dot-separated path to roles in claims.
	// e.g., "realm_access.roles" or "roles"
	RoleClaimPath string

	// RolePrefix filters roles to those starting with this prefix.
	RolePrefix string

	// UsernameClaimPath is the path to the preferred username claim.
	UsernameClaimPath string
}

// DefaultClaimsExtractor returns an extractor with Keycloak-style defaults.
func DefaultClaimsExtractor() *ClaimsExtractor {
	return &ClaimsExtractor{
		RoleClaimPath:     "realm_access.roles",
		UsernameClaimPath: "preferred_username",
	}
}

// Roles returns the roles found at the configured claim path.
func (e *ClaimsExtractor) Roles(claims map[string]any) []string {
	if e.RoleClaimPath == "" {
		return nil
	}
	roles := e.getStringSlice(claims, e.RoleClaimPath)
	if e.RolePrefix != "" {
		roles = filterByPrefix(roles, e.RolePrefix)
	}
	return roles
}

// Username returns the preferred username claim, or "" when absent.
func (e *ClaimsExtractor) Username(claims map[string]any) string {
	return e.getStringValue(claims, e.UsernameClaimPath)
}

// getStringValue gets a string value at a dot-separated path.
func (e *ClaimsExtractor) getStringValue(claims map[string]any, path string) string {
	value := e.getValue(claims, path)
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}

// getStringSlice gets a string slice at a dot-separated path.
func (e *ClaimsExtractor) getStringSlice(claims map[string]any, path string) []string {
	value := e.getValue(claims, path)
	if arr, ok := value.([]any); ok {
		result := make([]string, 0, len(arr))
		for _, v := range arr {
			if s, ok := v.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	if arr, ok := value.([]string); ok {
		return arr
	}
	return nil
}

// getValue gets a value at a dot-separated path.
func (e *ClaimsExtractor) getValue(claims map[string]any, path string) any {
	if path == "" {
		return nil
	}

	parts := strings.Split(path, ".")
	var current any = claims

	for _, part := range parts {
		if m, ok := current.(map[string]any); ok {
			current = m[part]
		} else {
			return nil
		}
	}

	return current
}

// filterByPrefix filters strings to those starting with prefix.
func filterByPrefix(items []string, prefix string) []string {
	result := make([]string, 0, len(items))
	for _, item := range items {
		if strings.HasPrefix(item, prefix) {
			result = append(result, item)
		}
	}
	return result
}
