package collab

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeengage/snippet-collab/pkg/audit"
)

// SweepExpired deletes every session idle for longer than SessionTimeout
// and returns how many were removed.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	cutoff := m.clock.Now().Add(-m.cfg.SessionTimeout)
	ids, err := m.store.DeleteIdle(ctx, cutoff)
	if err != nil {
		return 0, internalError("sweeping expired sessions", err)
	}

	for _, id := range ids {
		m.record(ctx, audit.NewEvent(audit.ActionSessionExpired).
			WithActor(systemActor).
			WithEntity(audit.EntityCollaborationSession, id))
	}
	if len(ids) > 0 {
		slog.Info("collab: swept expired sessions", "count", len(ids), "cutoff", cutoff)
	}
	return len(ids), nil
}

// Sweeper runs SweepExpired on a ticker.
type Sweeper struct {
	manager *Manager
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSweeper creates a sweeper for m.
func NewSweeper(m *Manager) *Sweeper {
	return &Sweeper{manager: m}
}

// StartCleanupRoutine starts a background goroutine that periodically
// removes expired sessions. The goroutine is stopped when Close is called.
func (s *Sweeper) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.manager.SweepExpired(ctx); err != nil {
					slog.Error("collab: sweep failed", slogKeyError, err)
				}
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *Sweeper) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}
