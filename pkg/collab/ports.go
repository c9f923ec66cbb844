package collab

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// TokenBytes is the number of random bytes in a session token (256 bits).
const TokenBytes = 32

// PermissionCollaborateAny lets its holder collaborate on any document.
const PermissionCollaborateAny = "collaborate_any_snippet"

// Visibility controls who may see a document.
type Visibility string

// Document visibilities.
const (
	VisibilityPublic       Visibility = "public"
	VisibilityPrivate      Visibility = "private"
	VisibilityOrganization Visibility = "organization"
)

// Document is the subset of a snippet the engine needs.
type Document struct {
	ID             string
	AuthorID       string
	OrganizationID string
	Visibility     Visibility
}

// User is the subset of an account the engine needs.
type User struct {
	ID       string
	Username string
}

// DocumentStore resolves documents and records new versions of their code.
type DocumentStore interface {
	// FindByID returns nil, nil when the document does not exist.
	FindByID(ctx context.Context, id string) (*Document, error)
	// LatestCode returns the newest code and its version number. Version 0
	// means the document has no saved code yet.
	LatestCode(ctx context.Context, id string) (code string, version int, err error)
	// CreateVersion stores code as version base+1. It returns ErrConflict
	// when base is no longer the newest version.
	CreateVersion(ctx context.Context, id string, base int, code, editorID, summary string) error
}

// UserStore resolves users and organization membership.
type UserStore interface {
	// FindByID returns nil, nil when the user does not exist.
	FindByID(ctx context.Context, id string) (*User, error)
	IsMemberOfOrganization(ctx context.Context, userID, orgID string) (bool, error)
}

// PermissionChecker answers role-based permission questions.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// TokenGenerator produces opaque secrets.
type TokenGenerator interface {
	Generate(byteLength int) (string, error)
}

// RandomTokens generates hex tokens from crypto/rand.
type RandomTokens struct{}

// Generate returns byteLength random bytes, hex encoded.
func (RandomTokens) Generate(byteLength int) (string, error) {
	b := make([]byte, byteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
