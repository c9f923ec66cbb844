// Package collab implements the collaborative editing session engine.
// Participants of a session share one code document; they exchange cursor,
// selection, text and chat updates through a store-backed session record and
// receive each other's changes by polling GetUpdates with a "since" watermark.
package collab

import (
	"maps"
	"slices"
	"time"
)

// Permission is the access level a participant holds within a session.
type Permission string

const (
	// PermissionEdit allows text changes.
	PermissionEdit Permission = "edit"
	// PermissionView allows cursor, selection and chat updates only.
	PermissionView Permission = "view"
)

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	return p == PermissionEdit || p == PermissionView
}

// Position addresses a character by zero-based line and column.
type Position struct {
	Line   uint `json:"line"`
	Column uint `json:"column"`
}

// Range is a half-open span [Start, End).
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// CursorState is a participant's last reported caret and selection.
type CursorState struct {
	Line      uint      `json:"line"`
	Column    uint      `json:"column"`
	Selection *Range    `json:"selection,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventKind distinguishes entries of the session event log.
type EventKind string

const (
	// EventTextChange records an applied edit.
	EventTextChange EventKind = "text_change"
	// EventChat records a chat message.
	EventChat EventKind = "chat"
)

// ChatMessage is the payload of a chat event.
type ChatMessage struct {
	Text    string `json:"text"`
	LineRef *uint  `json:"line_ref,omitempty"`
}

// Event is one entry of the append-only session log.
type Event struct {
	Seq       int64        `json:"seq"`
	Kind      EventKind    `json:"kind"`
	UserID    string       `json:"user_id"`
	Change    *EditRecord  `json:"change,omitempty"`
	Message   *ChatMessage `json:"message,omitempty"`
	Timestamp time.Time    `json:"timestamp"`

	// DocumentVersion is the document version a text change produced.
	DocumentVersion int `json:"document_version,omitempty"`
}

// EditLock is an advisory lock on text changes held by one participant.
type EditLock struct {
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// EditIntent marks a text change whose document write is in flight. While
// it is held no other participant writes the document through the session.
type EditIntent struct {
	UserID    string    `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
}

func (w *EditIntent) same(o EditIntent) bool {
	return w != nil && w.UserID == o.UserID && w.StartedAt.Equal(o.StartedAt)
}

// Session is one live, shared editing context for exactly one document.
type Session struct {
	ID           string                 `json:"id"`
	DocumentID   string                 `json:"document_id"`
	Token        string                 `json:"token"`
	Participants []string               `json:"participants"`
	Permissions  map[string]Permission  `json:"permissions,omitempty"`
	Cursors      map[string]CursorState `json:"cursors"`
	Events       []Event                `json:"events"`
	Lock         *EditLock              `json:"lock,omitempty"`
	Writer       *EditIntent            `json:"writer,omitempty"`
	LastActivity time.Time              `json:"last_activity"`
	CreatedAt    time.Time              `json:"created_at"`

	// Version is the optimistic concurrency counter maintained by the Store.
	Version int64 `json:"version"`
}

// HasParticipant reports whether userID is attached to the session.
func (s *Session) HasParticipant(userID string) bool {
	return slices.Contains(s.Participants, userID)
}

// PermissionOf returns the permission of a participant, defaulting to edit.
func (s *Session) PermissionOf(userID string) Permission {
	if p, ok := s.Permissions[userID]; ok {
		return p
	}
	return PermissionEdit
}

// IsActive reports whether the session has seen activity within timeout.
func (s *Session) IsActive(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity) <= timeout
}

// addParticipant attaches userID with the given permission.
func (s *Session) addParticipant(userID string, perm Permission) {
	if !s.HasParticipant(userID) {
		s.Participants = append(s.Participants, userID)
	}
	if s.Permissions == nil {
		s.Permissions = make(map[string]Permission)
	}
	s.Permissions[userID] = perm
}

// removeParticipant detaches userID and drops its ephemeral state.
func (s *Session) removeParticipant(userID string) {
	s.Participants = slices.DeleteFunc(s.Participants, func(id string) bool { return id == userID })
	delete(s.Permissions, userID)
	delete(s.Cursors, userID)
	if s.Lock != nil && s.Lock.HolderID == userID {
		s.Lock = nil
	}
}

// setCursor records a participant's cursor state.
func (s *Session) setCursor(userID string, cur CursorState) {
	if s.Cursors == nil {
		s.Cursors = make(map[string]CursorState)
	}
	s.Cursors[userID] = cur
}

// appendEvent adds an event with the next sequence number.
func (s *Session) appendEvent(ev Event) Event {
	ev.Seq = 1
	if n := len(s.Events); n > 0 {
		ev.Seq = s.Events[n-1].Seq + 1
	}
	s.Events = append(s.Events, ev)
	return ev
}

// touch advances LastActivity to a server-assigned instant strictly after
// the previous one, so per-session timestamps are monotonic even when the
// wall clock stalls or steps backwards.
func (s *Session) touch(now time.Time) time.Time {
	stamp := now.UTC().Truncate(time.Microsecond)
	if !stamp.After(s.LastActivity) {
		stamp = s.LastActivity.Add(time.Microsecond)
	}
	s.LastActivity = stamp
	return stamp
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Participants = slices.Clone(s.Participants)
	if s.Permissions != nil {
		c.Permissions = make(map[string]Permission, len(s.Permissions))
		maps.Copy(c.Permissions, s.Permissions)
	}
	c.Cursors = make(map[string]CursorState, len(s.Cursors))
	for k, v := range s.Cursors {
		if v.Selection != nil {
			sel := *v.Selection
			v.Selection = &sel
		}
		c.Cursors[k] = v
	}
	c.Events = slices.Clone(s.Events)
	if s.Lock != nil {
		l := *s.Lock
		c.Lock = &l
	}
	if s.Writer != nil {
		w := *s.Writer
		c.Writer = &w
	}
	return &c
}
