package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the bearer token authenticator.
type JWTConfig struct {
	// Issuer is the expected iss claim.
	Issuer string

	// SigningKey is the HMAC key used to verify signatures.
	SigningKey []byte

	// RoleClaimPath is the dot-separated path to roles, e.g. "realm_access.roles".
	RoleClaimPath string

	// RolePrefix filters roles to those with this prefix.
	RolePrefix string

	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
}

// JWTAuthenticator validates HS256 bearer tokens.
type JWTAuthenticator struct {
	cfg       JWTConfig
	extractor *ClaimsExtractor
}

// NewJWTAuthenticator creates a new JWT authenticator.
func NewJWTAuthenticator(cfg JWTConfig) (*JWTAuthenticator, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("jwt issuer is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("jwt signing key is required")
	}
	if cfg.RoleClaimPath == "" {
		cfg.RoleClaimPath = "roles"
	}

	return &JWTAuthenticator{
		cfg: cfg,
		extractor: &ClaimsExtractor{
			RoleClaimPath:    cfg.RoleClaimPath,
			RolePrefix:       cfg.RolePrefix,
			NameClaimPath:    "name",
			SubjectClaimPath: "sub",
		},
	}, nil
}

// Authenticate validates the JWT and returns user info.
func (a *JWTAuthenticator) Authenticate(ctx context.Context) (*UserContext, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, fmt.Errorf("no token found in context")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.cfg.SigningKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.cfg.Leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	uc := a.extractor.Extract(claims)
	if uc.UserID == "" {
		return nil, fmt.Errorf("missing sub claim")
	}
	uc.AuthType = AuthTypeJWT
	return uc, nil
}

// Verify interface compliance.
var _ Authenticator = (*JWTAuthenticator)(nil)
