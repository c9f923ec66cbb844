package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrUnauthenticated is returned when no authenticator accepts the credential.
var ErrUnauthenticated = errors.New("authentication required")

// Authenticator validates the credential in ctx and identifies the caller.
type Authenticator interface {
	Authenticate(ctx context.Context) (*UserContext, error)
}

// ChainedAuthenticator tries multiple authenticators in order.
type ChainedAuthenticator struct {
	authenticators []Authenticator
}

// NewChainedAuthenticator creates a chain. Nil entries are skipped.
func NewChainedAuthenticator(authenticators ...Authenticator) *ChainedAuthenticator {
	chain := make([]Authenticator, 0, len(authenticators))
	for _, a := range authenticators {
		if a != nil {
			chain = append(chain, a)
		}
	}
	return &ChainedAuthenticator{authenticators: chain}
}

// Authenticate returns the first successful result.
func (c *ChainedAuthenticator) Authenticate(ctx context.Context) (*UserContext, error) {
	if GetToken(ctx) == "" {
		return nil, ErrUnauthenticated
	}
	var errs []error
	for _, a := range c.authenticators {
		uc, err := a.Authenticate(ctx)
		if err == nil && uc != nil {
			return uc, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		slog.Debug("auth: all authenticators rejected credential", "error", errors.Join(errs...))
	}
	return nil, fmt.Errorf("%w: credential rejected", ErrUnauthenticated)
}

// Verify interface compliance.
var _ Authenticator = (*ChainedAuthenticator)(nil)
