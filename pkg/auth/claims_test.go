package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaimsExtractor_NestedRolePath(t *testing.T) {
	e := DefaultClaimsExtractor()

	claims := map[string]any{
		"realm_access": map[string]any{
			"roles": []any{"weather-user", "calc-user"},
		},
	}
	assert.Equal(t, []string{"weather-user", "calc-user"}, e.Roles(claims))
}

func TestClaimsExtractor_TopLevelRolePath(t *testing.T) {
	e := &ClaimsExtractor{RoleClaimPath: "roles"}

	claims := map[string]any{"roles": []any{"admin"}}
	assert.Equal(t, []string{"admin"}, e.Roles(claims))
}

func TestClaimsExtractor_StringSlicePassthrough(t *testing.T) {
	e := &ClaimsExtractor{RoleClaimPath: "roles"}

	claims := map[string]any{"roles": []string{"admin", "user"}}
	assert.Equal(t, []string{"admin", "user"}, e.Roles(claims))
}

func TestClaimsExtractor_RolePrefix(t *testing.T) {
	e := &ClaimsExtractor{RoleClaimPath: "roles", RolePrefix: "mcp_"}

	claims := map[string]any{"roles": []any{"mcp_weather", "other", "mcp_calc"}}
	assert.Equal(t, []string{"mcp_weather", "mcp_calc"}, e.Roles(claims))
}

func TestClaimsExtractor_MissingPath(t *testing.T) {
	e := DefaultClaimsExtractor()

	assert.Nil(t, e.Roles(map[string]any{}))
	assert.Nil(t, e.Roles(map[string]any{"realm_access": "not-an-object"}))
	assert.Nil(t, e.Roles(map[string]any{"realm_access": map[string]any{"roles": "not-an-array"}}))
}

func TestClaimsExtractor_SkipsNonStringRoles(t *testing.T) {
	e := &ClaimsExtractor{RoleClaimPath: "roles"}

	claims := map[string]any{"roles": []any{"admin", 42, true}}
	assert.Equal(t, []string{"admin"}, e.Roles(claims))
}

func TestClaimsExtractor_Username(t *testing.T) {
	e := DefaultClaimsExtractor()

	assert.Equal(t, "alice", e.Username(map[string]any{"preferred_username": "alice"}))
	assert.Empty(t, e.Username(map[string]any{}))
	assert.Empty(t, e.Username(map[string]any{"preferred_username": 7}))
}

func TestClaimsExtractor_EmptyRolePath(t *testing.T) {
	e := &ClaimsExtractor{}
	assert.Nil(t, e.Roles(map[string]any{"roles": []any{"admin"}}))
}

func TestPrincipal_HasRole(t *testing.T) {
	p := &Principal{Roles: []string{"weather-user", "calc-user"}}

	assert.True(t, p.HasRole("weather-user"))
	assert.False(t, p.HasRole("datahub-user"))
	assert.False(t, (&Principal{}).HasRole("any"))
}
