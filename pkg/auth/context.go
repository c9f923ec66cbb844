// Package auth authenticates API callers by bearer JWT or API key.
package auth

import (
	"context"
	"slices"
)

// contextKey is a private type for context keys.
type contextKey int

const (
	userContextKey contextKey = iota
	tokenContextKey
)

// Authentication methods reported in UserContext.AuthType.
const (
	AuthTypeJWT    = "jwt"
	AuthTypeAPIKey = "apikey"
)

// UserContext holds authenticated user information.
type UserContext struct {
	UserID   string         `json:"user_id"`
	Name     string         `json:"name,omitempty"`
	Roles    []string       `json:"roles,omitempty"`
	Claims   map[string]any `json:"claims,omitempty"`
	AuthType string         `json:"auth_type"`
}

// WithUserContext adds user context to the context.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, uc)
}

// GetUserContext retrieves user context from the context.
func GetUserContext(ctx context.Context) *UserContext {
	if uc, ok := ctx.Value(userContextKey).(*UserContext); ok {
		return uc
	}
	return nil
}

// WithToken adds a raw credential to the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// GetToken retrieves the raw credential from the context.
func GetToken(ctx context.Context) string {
	if t, ok := ctx.Value(tokenContextKey).(string); ok {
		return t
	}
	return ""
}

// HasRole checks if the user has a specific role.
func (uc *UserContext) HasRole(role string) bool {
	return slices.Contains(uc.Roles, role)
}

// HasAnyRole checks if the user has any of the specified roles.
func (uc *UserContext) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, uc.HasRole)
}
