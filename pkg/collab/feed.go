package collab

import (
	"context"
	"maps"
	"slices"
	"time"
)

// FeedEntryType distinguishes entries of a Delta.
type FeedEntryType string

// Feed entry types.
const (
	FeedCursor     FeedEntryType = "cursor"
	FeedTextChange FeedEntryType = "text_change"
	FeedChat       FeedEntryType = "chat"
)

// FeedEntry is one change observed since the caller's watermark.
type FeedEntry struct {
	Type      FeedEntryType `json:"type"`
	UserID    string        `json:"user_id"`
	Timestamp time.Time     `json:"timestamp"`
	Cursor    *CursorState  `json:"cursor,omitempty"`
	Event     *Event        `json:"event,omitempty"`
}

// Delta is the answer to a poll.
type Delta struct {
	SessionID    string                 `json:"session_id"`
	Participants []string               `json:"participants"`
	Cursors      map[string]CursorState `json:"cursors"`
	Lock         *EditLock              `json:"lock,omitempty"`
	LastActivity time.Time              `json:"last_activity"`
	Updates      []FeedEntry            `json:"updates"`
	// Until is the server watermark to pass as the next since. Stamps are
	// server-assigned and may run ahead of the wall clock during bursts, so
	// a since taken from the caller's clock can repeat entries.
	Until time.Time `json:"until"`
}

// GetUpdates returns everything that changed after since. A zero since
// returns the full history. Entries are ordered by timestamp; on equal
// timestamps cursor entries come before log entries, and log entries keep
// their sequence order. Callers resume from the returned Until.
func (m *Manager) GetUpdates(ctx context.Context, token, userID string, since time.Time) (*Delta, error) {
	sess, err := m.byToken(token)(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.requireParticipant(sess, userID, m.clock.Now()); err != nil {
		return nil, err
	}

	updates := make([]FeedEntry, 0)

	cursorUsers := slices.Sorted(maps.Keys(sess.Cursors))
	for _, uid := range cursorUsers {
		cur := sess.Cursors[uid]
		if !cur.UpdatedAt.After(since) {
			continue
		}
		updates = append(updates, FeedEntry{
			Type:      FeedCursor,
			UserID:    uid,
			Timestamp: cur.UpdatedAt,
			Cursor:    &cur,
		})
	}

	for i := range sess.Events {
		ev := sess.Events[i]
		if !ev.Timestamp.After(since) {
			continue
		}
		typ := FeedTextChange
		if ev.Kind == EventChat {
			typ = FeedChat
		}
		updates = append(updates, FeedEntry{
			Type:      typ,
			UserID:    ev.UserID,
			Timestamp: ev.Timestamp,
			Event:     &ev,
		})
	}

	// Cursors were appended first, so a stable sort keeps them ahead of log
	// entries sharing a timestamp.
	slices.SortStableFunc(updates, func(a, b FeedEntry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	until := sess.LastActivity
	if since.After(until) {
		until = since
	}

	return &Delta{
		SessionID:    sess.ID,
		Participants: slices.Clone(sess.Participants),
		Cursors:      sess.Cursors,
		Lock:         sess.Lock,
		LastActivity: sess.LastActivity,
		Updates:      updates,
		Until:        until,
	}, nil
}

// ListMessages returns the newest limit chat messages, oldest first. A
// non-positive limit uses the configured default.
func (m *Manager) ListMessages(ctx context.Context, token, userID string, limit int) ([]Event, error) {
	sess, err := m.byToken(token)(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.requireParticipant(sess, userID, m.clock.Now()); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = m.cfg.MessageLimit
	}

	msgs := make([]Event, 0)
	for _, ev := range sess.Events {
		if ev.Kind == EventChat {
			msgs = append(msgs, ev)
		}
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}
