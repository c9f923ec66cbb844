package collab

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// outcome tells mutate what to persist after a mutation ran.
type outcome int

const (
	skipWrite outcome = iota
	saveSession
	deleteSession
)

// loader resolves the session a mutation applies to.
type loader func(ctx context.Context) (*Session, error)

// mutation changes a freshly loaded copy of the session. It may run more
// than once, so it must not have side effects outside s.
type mutation func(s *Session, now time.Time) (outcome, error)

func (m *Manager) byToken(token string) loader {
	return func(ctx context.Context) (*Session, error) {
		sess, err := m.store.GetByToken(ctx, token)
		if err != nil {
			return nil, internalError("loading session", err)
		}
		if sess == nil {
			return nil, ErrSessionNotFound
		}
		return sess, nil
	}
}

func (m *Manager) byID(id string) loader {
	return func(ctx context.Context) (*Session, error) {
		sess, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, internalError("loading session", err)
		}
		if sess == nil {
			return nil, ErrSessionNotFound
		}
		return sess, nil
	}
}

// mutate runs a read-modify-write cycle guarded by the store's version
// check, retrying on conflict up to MaxRetries times.
func (m *Manager) mutate(ctx context.Context, load loader, fn mutation) (*Session, error) {
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		sess, err := load(ctx)
		if err != nil {
			return nil, err
		}

		out, err := fn(sess, m.clock.Now())
		if err != nil {
			return nil, err
		}

		switch out {
		case skipWrite:
			return sess, nil
		case deleteSession:
			err = m.store.Delete(ctx, sess.ID, sess.Version)
		default:
			err = m.store.Update(ctx, sess)
		}
		if errors.Is(err, ErrConflict) {
			slog.Debug("collab: version conflict, retrying", slogKeySessionID, sess.ID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, internalError("persisting session", err)
		}
		return sess, nil
	}
	return nil, internalError("persisting session", errRetriesExhausted)
}
