package collab

import (
	"context"
	"errors"
	"time"
)

// Store errors. They describe persistence outcomes and are translated by the
// Manager; callers of the Manager never see them directly.
var (
	// ErrConflict reports that the stored version no longer matches. Document
	// stores return it for version conflicts too.
	ErrConflict = errors.New("version conflict")

	// ErrDuplicate reports that a live session already exists for the
	// document, or that the token is already taken.
	ErrDuplicate = errors.New("session already exists")
)

// Store persists sessions with optimistic concurrency. Every write is a
// single compare-and-swap on Session.Version, so a failed write leaves
// nothing half-applied.
type Store interface {
	// Create inserts a new session with Version 1. It returns ErrDuplicate
	// when the document already has a session or the token collides.
	Create(ctx context.Context, sess *Session) error

	// Get, GetByToken and GetByDocument return nil, nil when not found.
	Get(ctx context.Context, id string) (*Session, error)
	GetByToken(ctx context.Context, token string) (*Session, error)
	GetByDocument(ctx context.Context, documentID string) (*Session, error)

	// Update replaces the session if the stored Version equals sess.Version,
	// then increments sess.Version. A mismatch or a missing row returns
	// ErrConflict.
	Update(ctx context.Context, sess *Session) error

	// Delete removes the session if the stored Version equals version.
	Delete(ctx context.Context, id string, version int64) error

	// DeleteIdle removes every session whose last activity is before cutoff
	// and returns their IDs. The predicate is evaluated atomically with the
	// delete, so a session touched concurrently survives.
	DeleteIdle(ctx context.Context, cutoff time.Time) ([]string, error)

	// Close releases resources.
	Close() error
}
