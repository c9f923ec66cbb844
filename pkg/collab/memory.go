package collab

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with in-process maps. Sessions are cloned on
// the way in and out, so callers never share state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	byToken    map[string]string
	byDocument map[string]string
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*Session),
		byToken:    make(map[string]string),
		byDocument: make(map[string]string),
	}
}

// Create persists a new session.
func (s *MemoryStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byDocument[sess.DocumentID]; ok {
		return ErrDuplicate
	}
	if _, ok := s.byToken[sess.Token]; ok {
		return ErrDuplicate
	}

	sess.Version = 1
	s.sessions[sess.ID] = sess.Clone()
	s.byToken[sess.Token] = sess.ID
	s.byDocument[sess.DocumentID] = sess.ID
	return nil
}

// Get retrieves a session by ID. Returns nil, nil if not found.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sessions[id].Clone(), nil
}

// GetByToken retrieves a session by its join token. Returns nil, nil if not found.
func (s *MemoryStore) GetByToken(_ context.Context, token string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	return s.sessions[id].Clone(), nil
}

// GetByDocument retrieves the live session of a document. Returns nil, nil if none.
func (s *MemoryStore) GetByDocument(_ context.Context, documentID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDocument[documentID]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	return s.sessions[id].Clone(), nil
}

// Update replaces the session when its version matches.
func (s *MemoryStore) Update(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[sess.ID]
	if !ok || cur.Version != sess.Version {
		return ErrConflict
	}

	sess.Version++
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Delete removes the session when its version matches.
func (s *MemoryStore) Delete(_ context.Context, id string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[id]
	if !ok || cur.Version != version {
		return ErrConflict
	}
	s.remove(cur)
	return nil
}

// DeleteIdle removes sessions idle since before cutoff.
func (s *MemoryStore) DeleteIdle(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			s.remove(sess)
			ids = append(ids, sess.ID)
		}
	}
	return ids, nil
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close is a no-op.
func (*MemoryStore) Close() error { return nil }

func (s *MemoryStore) remove(sess *Session) {
	delete(s.sessions, sess.ID)
	delete(s.byToken, sess.Token)
	delete(s.byDocument, sess.DocumentID)
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
