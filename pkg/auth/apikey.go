package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyConfig holds API key configuration.
type APIKeyConfig struct {
	Keys []APIKey
}

// APIKey is a configured key. Only the bcrypt hash of the key is stored.
type APIKey struct {
	Name   string   `yaml:"name"`
	Hash   string   `yaml:"hash"`
	UserID string   `yaml:"user_id"`
	Roles  []string `yaml:"roles"`
}

// APIKeyAuthenticator authenticates using API keys.
type APIKeyAuthenticator struct {
	keys []APIKey
}

// NewAPIKeyAuthenticator creates a new API key authenticator. Every entry
// must carry a hash and the user it acts as.
func NewAPIKeyAuthenticator(cfg APIKeyConfig) (*APIKeyAuthenticator, error) {
	for _, k := range cfg.Keys {
		if k.Hash == "" || k.UserID == "" {
			return nil, fmt.Errorf("api key %q: hash and user_id are required", k.Name)
		}
		if _, err := bcrypt.Cost([]byte(k.Hash)); err != nil {
			return nil, fmt.Errorf("api key %q: invalid bcrypt hash: %w", k.Name, err)
		}
	}
	return &APIKeyAuthenticator{keys: cfg.Keys}, nil
}

// HashAPIKey returns the bcrypt hash to put in configuration for key.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("api key is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}
	return string(hash), nil
}

// Authenticate validates the API key and returns user info.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context) (*UserContext, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, fmt.Errorf("no API key found in context")
	}

	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(token)) == nil {
			return &UserContext{
				UserID:   k.UserID,
				Name:     k.Name,
				Roles:    k.Roles,
				AuthType: AuthTypeAPIKey,
			}, nil
		}
	}
	return nil, fmt.Errorf("invalid API key")
}

// Verify interface compliance.
var _ Authenticator = (*APIKeyAuthenticator)(nil)
