package collab

import (
	"context"
	"time"
)

// AcquireLock grants userID the advisory edit lock for LockTTL. While a
// fresh lock is held, text changes from other participants are refused.
// Re-acquiring refreshes the holder's lock.
func (m *Manager) AcquireLock(ctx context.Context, token, userID string) (*EditLock, error) {
	sess, err := m.mutate(ctx, m.byToken(token), func(s *Session, now time.Time) (outcome, error) {
		if err := m.requireParticipant(s, userID, now); err != nil {
			return skipWrite, err
		}
		if s.PermissionOf(userID) != PermissionEdit {
			return skipWrite, ErrReadOnly
		}
		if m.lockedByOther(s, userID, now) {
			return skipWrite, ErrSessionLocked
		}
		s.Lock = &EditLock{HolderID: userID, AcquiredAt: s.touch(now)}
		return saveSession, nil
	})
	if err != nil {
		return nil, err
	}
	lock := *sess.Lock
	return &lock, nil
}

// ReleaseLock drops the lock held by userID. Releasing when no lock is held
// is a no-op; a lock held by someone else cannot be released.
func (m *Manager) ReleaseLock(ctx context.Context, token, userID string) error {
	_, err := m.mutate(ctx, m.byToken(token), func(s *Session, now time.Time) (outcome, error) {
		if err := m.requireParticipant(s, userID, now); err != nil {
			return skipWrite, err
		}
		if s.Lock == nil {
			return skipWrite, nil
		}
		if m.lockedByOther(s, userID, now) {
			return skipWrite, ErrLockedByOther
		}
		s.Lock = nil
		s.touch(now)
		return saveSession, nil
	})
	return err
}

// lockedByOther reports whether someone other than userID holds a lock
// that has not yet lapsed.
func (m *Manager) lockedByOther(s *Session, userID string, now time.Time) bool {
	if s.Lock == nil || s.Lock.HolderID == userID {
		return false
	}
	return now.Sub(s.Lock.AcquiredAt) < m.cfg.LockTTL
}
