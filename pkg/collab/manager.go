package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/codeengage/snippet-collab/pkg/audit"
)

// Defaults applied by NewManager to zero Config fields.
const (
	DefaultSessionTimeout  = 24 * time.Hour
	DefaultMaxParticipants = 10
	DefaultMaxRetries      = 5
	DefaultLockTTL         = 5 * time.Minute
	DefaultInviteTTL       = 24 * time.Hour
	DefaultMessageLimit    = 50
	DefaultWriteTimeout    = 10 * time.Second
)

// MaxMessageLength bounds a chat message, in runes.
const MaxMessageLength = 4000

const (
	slogKeyError     = "error"
	slogKeySessionID = "session_id"
	slogKeyUserID    = "user_id"

	systemActor = "system"
)

var errRetriesExhausted = errors.New("too many concurrent modifications")

// Config tunes the Manager.
type Config struct {
	SessionTimeout  time.Duration
	MaxParticipants int
	// MaxRetries bounds how often a read-modify-write is retried after a
	// version conflict.
	MaxRetries   int
	LockTTL      time.Duration
	InviteTTL    time.Duration
	InviteKey    []byte
	MessageLimit int
	// WriteTimeout bounds how long a text change waits for another
	// participant's document write, and when an unfinished one goes stale.
	WriteTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = DefaultMaxParticipants
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.InviteTTL <= 0 {
		c.InviteTTL = DefaultInviteTTL
	}
	if c.MessageLimit <= 0 {
		c.MessageLimit = DefaultMessageLimit
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// Deps are the collaborators of a Manager. Audit, Clock and Tokens are
// optional.
type Deps struct {
	Store       Store
	Documents   DocumentStore
	Users       UserStore
	Permissions PermissionChecker
	Audit       audit.Logger
	Clock       Clock
	Tokens      TokenGenerator
}

// Manager runs the session lifecycle. It holds no session state of its own;
// every operation is a read-modify-write against the Store.
type Manager struct {
	store     Store
	documents DocumentStore
	users     UserStore
	gate      *Gate
	audit     audit.Logger
	clock     Clock
	tokens    TokenGenerator
	cfg       Config
}

// NewManager creates a Manager.
func NewManager(deps Deps, cfg Config) (*Manager, error) {
	if deps.Store == nil || deps.Documents == nil || deps.Users == nil || deps.Permissions == nil {
		return nil, errors.New("collab: store, documents, users and permissions are required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.NoopLogger{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Tokens == nil {
		deps.Tokens = RandomTokens{}
	}
	cfg.applyDefaults()

	return &Manager{
		store:     deps.Store,
		documents: deps.Documents,
		users:     deps.Users,
		gate:      NewGate(deps.Users, deps.Permissions),
		audit:     deps.Audit,
		clock:     deps.Clock,
		tokens:    deps.Tokens,
		cfg:       cfg,
	}, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// CreateSession opens a session on a document, or joins the live one.
// An expired session still holding the document is reclaimed first.
func (m *Manager) CreateSession(ctx context.Context, documentID, userID string) (*Session, error) {
	doc, err := m.findDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	user, err := m.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, doc, user); err != nil {
		return nil, err
	}

	for range m.cfg.MaxRetries + 1 {
		now := m.clock.Now()
		existing, err := m.store.GetByDocument(ctx, documentID)
		if err != nil {
			return nil, internalError("loading document session", err)
		}

		if existing != nil {
			if existing.IsActive(now, m.cfg.SessionTimeout) {
				return m.join(ctx, m.byToken(existing.Token), userID, PermissionEdit)
			}
			err := m.store.Delete(ctx, existing.ID, existing.Version)
			if errors.Is(err, ErrConflict) {
				continue
			}
			if err != nil {
				return nil, internalError("reclaiming expired session", err)
			}
			slog.Info("collab: reclaimed expired session", slogKeySessionID, existing.ID, "document_id", documentID)
			m.record(ctx, audit.NewEvent(audit.ActionSessionExpired).
				WithActor(systemActor).
				WithEntity(audit.EntityCollaborationSession, existing.ID).
				WithOldValues(map[string]any{"document_id": documentID, "participants": len(existing.Participants)}))
		}

		sess, err := m.newSession(documentID, userID, now)
		if err != nil {
			return nil, err
		}
		err = m.store.Create(ctx, sess)
		if errors.Is(err, ErrDuplicate) {
			// Another create won the race for this document; join it on
			// the next pass.
			continue
		}
		if err != nil {
			return nil, internalError("creating session", err)
		}

		m.record(ctx, audit.NewEvent(audit.ActionSessionCreated).
			WithActor(userID).
			WithEntity(audit.EntityCollaborationSession, sess.ID).
			WithNewValues(map[string]any{"document_id": documentID}))
		return sess, nil
	}
	return nil, internalError("creating session", errRetriesExhausted)
}

func (m *Manager) newSession(documentID, userID string, now time.Time) (*Session, error) {
	token, err := m.tokens.Generate(TokenBytes)
	if err != nil {
		return nil, internalError("generating session token", err)
	}
	stamp := now.UTC().Truncate(time.Microsecond)
	return &Session{
		ID:           uuid.NewString(),
		DocumentID:   documentID,
		Token:        token,
		Participants: []string{userID},
		Permissions:  map[string]Permission{userID: PermissionEdit},
		Cursors:      map[string]CursorState{},
		Events:       []Event{},
		LastActivity: stamp,
		CreatedAt:    stamp,
	}, nil
}

// JoinSession attaches userID to the session identified by token. Joining
// twice is a no-op that returns the current session.
func (m *Manager) JoinSession(ctx context.Context, token, userID string) (*Session, error) {
	return m.join(ctx, m.byToken(token), userID, PermissionEdit)
}

func (m *Manager) join(ctx context.Context, load loader, userID string, perm Permission) (*Session, error) {
	sess, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive(m.clock.Now(), m.cfg.SessionTimeout) {
		return nil, ErrSessionExpired
	}

	user, err := m.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	doc, err := m.findDocument(ctx, sess.DocumentID)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, doc, user); err != nil {
		return nil, err
	}

	joined := false
	sess, err = m.mutate(ctx, load, func(s *Session, now time.Time) (outcome, error) {
		joined = false
		if !s.IsActive(now, m.cfg.SessionTimeout) {
			return skipWrite, ErrSessionExpired
		}
		if s.HasParticipant(userID) {
			return skipWrite, nil
		}
		if len(s.Participants) >= m.cfg.MaxParticipants {
			return skipWrite, ErrSessionFull
		}
		s.addParticipant(userID, perm)
		s.touch(now)
		joined = true
		return saveSession, nil
	})
	if err != nil {
		return nil, err
	}

	if joined {
		m.record(ctx, audit.NewEvent(audit.ActionSessionJoined).
			WithActor(userID).
			WithEntity(audit.EntityCollaborationSession, sess.ID).
			WithNewValues(map[string]any{
				"permission":   string(perm),
				"participants": len(sess.Participants),
			}))
	}
	return sess, nil
}

// PushUpdate applies a client update to the session. Every accepted update
// advances LastActivity.
func (m *Manager) PushUpdate(ctx context.Context, token, userID string, update Update) error {
	if update == nil {
		return ErrInvalidUpdate
	}

	switch u := update.(type) {
	case TextChange:
		return m.applyTextChange(ctx, token, userID, u)
	case CursorUpdate:
		return m.pushSimple(ctx, token, userID, func(s *Session, stamp time.Time) {
			s.setCursor(userID, CursorState{
				Line:      u.Line,
				Column:    u.Column,
				Selection: cloneRange(u.Selection),
				UpdatedAt: stamp,
			})
		})
	case SelectionUpdate:
		return m.pushSimple(ctx, token, userID, func(s *Session, stamp time.Time) {
			cur := s.Cursors[userID]
			cur.Selection = cloneRange(&u.Selection)
			cur.UpdatedAt = stamp
			s.setCursor(userID, cur)
		})
	case Message:
		if err := validateMessage(u); err != nil {
			return err
		}
		return m.pushSimple(ctx, token, userID, func(s *Session, stamp time.Time) {
			s.appendEvent(Event{
				Kind:      EventChat,
				UserID:    userID,
				Message:   &ChatMessage{Text: u.Text, LineRef: u.LineRef},
				Timestamp: stamp,
			})
		})
	case UnknownUpdate:
		slog.Debug("collab: ignoring unknown update kind", "kind", u.Kind, slogKeyUserID, userID)
		return m.pushSimple(ctx, token, userID, func(*Session, time.Time) {})
	default:
		return ErrInvalidUpdate
	}
}

func validateMessage(msg Message) error {
	if strings.TrimSpace(msg.Text) == "" {
		return ErrInvalidUpdate
	}
	if utf8.RuneCountInString(msg.Text) > MaxMessageLength {
		return validationf("message exceeds %d characters", MaxMessageLength)
	}
	return nil
}

// pushSimple runs a membership-checked mutation that stamps the session.
func (m *Manager) pushSimple(ctx context.Context, token, userID string, apply func(s *Session, stamp time.Time)) error {
	_, err := m.mutate(ctx, m.byToken(token), func(s *Session, now time.Time) (outcome, error) {
		if err := m.requireParticipant(s, userID, now); err != nil {
			return skipWrite, err
		}
		apply(s, s.touch(now))
		return saveSession, nil
	})
	return err
}

// applyTextChange edits the document's latest code and records the result
// as a new document version plus a text_change event.
//
// The push first claims the session's edit intent with a versioned
// session write, so membership, permission and lock checks commit together
// with the claim. The document is then written with a compare-and-set on
// its newest version, retrying read, apply and write when an edit from
// outside the session lands first. Finally the event is appended and the
// intent released. A push that fails before the document write leaves
// nothing behind.
func (m *Manager) applyTextChange(ctx context.Context, token, userID string, change TextChange) error {
	if change.Op == nil {
		return ErrInvalidEdit
	}
	if err := change.Op.Validate(); err != nil {
		return err
	}

	sess, err := m.byToken(token)(ctx)
	if err != nil {
		return err
	}
	if err := m.requireParticipant(sess, userID, m.clock.Now()); err != nil {
		return err
	}
	doc, err := m.findDocument(ctx, sess.DocumentID)
	if err != nil {
		return err
	}
	user, err := m.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := m.authorize(ctx, doc, user); err != nil {
		return err
	}

	intent, err := m.claimWriter(ctx, token, userID)
	if err != nil {
		return err
	}

	res, err := m.writeDocument(ctx, doc, user, change.Op)
	if err != nil {
		m.releaseWriter(ctx, token, intent)
		return err
	}

	err = m.finishTextChange(ctx, token, intent, change.Op, res.version)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		slog.Info("collab: session ended during text change", slogKeySessionID, sess.ID, slogKeyUserID, userID)
	case err != nil:
		// The document version is stored; only the event is missing.
		slog.Error("collab: recording text change failed",
			"document_id", doc.ID, "document_version", res.version, slogKeyUserID, userID, slogKeyError, err)
		return err
	}

	m.record(ctx, audit.NewEvent(audit.ActionTextChange).
		WithActor(userID).
		WithEntity(audit.EntitySnippet, doc.ID).
		WithOldValues(map[string]any{"length": utf8.RuneCountInString(res.before)}).
		WithNewValues(map[string]any{
			"length":           utf8.RuneCountInString(res.after),
			"edit":             string(change.Op.Kind()),
			"session_id":       sess.ID,
			"document_version": res.version,
		}))
	return nil
}

// errWriterBusy is returned by the claim mutation while a document write of
// the session is in flight.
var errWriterBusy = errors.New("writer busy")

// writerPoll is the first delay between claim attempts on a busy session.
const writerPoll = 2 * time.Millisecond

// claimWriter records userID as the session's writer. It waits while a
// fresh intent is held and gives up after WriteTimeout.
func (m *Manager) claimWriter(ctx context.Context, token, userID string) (EditIntent, error) {
	var intent EditIntent
	claim := func(s *Session, now time.Time) (outcome, error) {
		if err := m.requireParticipant(s, userID, now); err != nil {
			return skipWrite, err
		}
		if err := m.requireEditor(s, userID, now); err != nil {
			return skipWrite, err
		}
		if m.writerHeld(s, now) {
			return skipWrite, errWriterBusy
		}
		intent = EditIntent{UserID: userID, StartedAt: s.touch(now)}
		s.Writer = &intent
		return saveSession, nil
	}

	deadline := time.Now().Add(m.cfg.WriteTimeout)
	delay := writerPoll
	for {
		_, err := m.mutate(ctx, m.byToken(token), claim)
		if !errors.Is(err, errWriterBusy) {
			return intent, err
		}
		if time.Now().After(deadline) {
			return EditIntent{}, ErrWriteBusy
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return EditIntent{}, ctx.Err()
		case <-t.C:
		}
		delay = min(2*delay, 50*time.Millisecond)
	}
}

// writerHeld reports whether a document write of the session is in flight.
// An intent older than WriteTimeout belongs to a writer that died.
func (m *Manager) writerHeld(s *Session, now time.Time) bool {
	return s.Writer != nil && now.Sub(s.Writer.StartedAt) < m.cfg.WriteTimeout
}

type textChangeResult struct {
	before, after string
	version       int
}

// writeDocument applies op to the newest code and stores it as the next
// version, retrying when the document moved underneath.
func (m *Manager) writeDocument(ctx context.Context, doc *Document, user *User, op EditOp) (textChangeResult, error) {
	editor := user.Username
	if editor == "" {
		editor = user.ID
	}
	summary := fmt.Sprintf("collaborative %s by %s", op.Kind(), editor)

	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		current, base, err := m.documents.LatestCode(ctx, doc.ID)
		if err != nil {
			return textChangeResult{}, internalError("loading document code", err)
		}
		updated := ApplyEdit(current, op)
		if updated == current {
			return textChangeResult{}, ErrNoopEdit
		}

		err = m.documents.CreateVersion(ctx, doc.ID, base, updated, user.ID, summary)
		if errors.Is(err, ErrConflict) {
			slog.Debug("collab: document moved, reapplying edit", "document_id", doc.ID, "attempt", attempt)
			continue
		}
		if err != nil {
			return textChangeResult{}, internalError("saving document version", err)
		}
		return textChangeResult{before: current, after: updated, version: base + 1}, nil
	}
	return textChangeResult{}, internalError("saving document version", errRetriesExhausted)
}

// finishTextChange appends the text_change event and releases the intent.
// The document is already written, so membership and expiry no longer
// matter here. A session emptied meanwhile is deleted now; one swept
// meanwhile yields ErrSessionNotFound.
func (m *Manager) finishTextChange(ctx context.Context, token string, intent EditIntent, op EditOp, version int) error {
	rec := op.Record()
	_, err := m.mutate(ctx, m.byToken(token), func(s *Session, now time.Time) (outcome, error) {
		s.appendEvent(Event{
			Kind:            EventTextChange,
			UserID:          intent.UserID,
			Change:          &rec,
			Timestamp:       s.touch(now),
			DocumentVersion: version,
		})
		if s.Writer.same(intent) {
			s.Writer = nil
		}
		if len(s.Participants) == 0 {
			return deleteSession, nil
		}
		return saveSession, nil
	})
	return err
}

// releaseWriter drops an intent whose document write failed. A failed
// release only delays other writers until the intent goes stale.
func (m *Manager) releaseWriter(ctx context.Context, token string, intent EditIntent) {
	_, err := m.mutate(ctx, m.byToken(token), func(s *Session, _ time.Time) (outcome, error) {
		if !s.Writer.same(intent) {
			return skipWrite, nil
		}
		s.Writer = nil
		if len(s.Participants) == 0 {
			return deleteSession, nil
		}
		return saveSession, nil
	})
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		slog.Warn("collab: releasing edit intent failed", slogKeyUserID, intent.UserID, slogKeyError, err)
	}
}

// EndSession detaches userID. Only the document owner or a participant may
// call it. The last participant leaving deletes the session, or leaves that
// to an in-flight text change.
func (m *Manager) EndSession(ctx context.Context, token, userID string) error {
	sess, err := m.byToken(token)(ctx)
	if err != nil {
		return err
	}
	if !sess.IsActive(m.clock.Now(), m.cfg.SessionTimeout) {
		return ErrSessionExpired
	}
	if !sess.HasParticipant(userID) {
		doc, err := m.findDocument(ctx, sess.DocumentID)
		if err != nil {
			return err
		}
		if doc.AuthorID != userID {
			return ErrCannotEnd
		}
	}

	deleted := false
	sess, err = m.mutate(ctx, m.byToken(token), func(s *Session, now time.Time) (outcome, error) {
		deleted = false
		if !s.IsActive(now, m.cfg.SessionTimeout) {
			return skipWrite, ErrSessionExpired
		}
		s.removeParticipant(userID)
		// An in-flight text change deletes the emptied session when it
		// finishes.
		if len(s.Participants) == 0 && !m.writerHeld(s, now) {
			deleted = true
			return deleteSession, nil
		}
		s.touch(now)
		return saveSession, nil
	})
	if err != nil {
		return err
	}

	m.record(ctx, audit.NewEvent(audit.ActionSessionLeft).
		WithActor(userID).
		WithEntity(audit.EntityCollaborationSession, sess.ID).
		WithNewValues(map[string]any{
			"participants":    len(sess.Participants),
			"session_deleted": deleted,
		}))
	return nil
}

func (m *Manager) requireParticipant(s *Session, userID string, now time.Time) error {
	if !s.IsActive(now, m.cfg.SessionTimeout) {
		return ErrSessionExpired
	}
	if !s.HasParticipant(userID) {
		return ErrNotParticipant
	}
	return nil
}

func (m *Manager) requireEditor(s *Session, userID string, now time.Time) error {
	if s.PermissionOf(userID) != PermissionEdit {
		return ErrReadOnly
	}
	if m.lockedByOther(s, userID, now) {
		return ErrLockedByOther
	}
	return nil
}

func (m *Manager) findDocument(ctx context.Context, id string) (*Document, error) {
	doc, err := m.documents.FindByID(ctx, id)
	if err != nil {
		return nil, internalError("loading document", err)
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (m *Manager) findUser(ctx context.Context, id string) (*User, error) {
	user, err := m.users.FindByID(ctx, id)
	if err != nil {
		return nil, internalError("loading user", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (m *Manager) authorize(ctx context.Context, doc *Document, user *User) error {
	ok, err := m.gate.CanCollaborate(ctx, doc, user)
	if err != nil {
		return internalError("authorizing collaboration", err)
	}
	if !ok {
		return ErrNotAllowed
	}
	return nil
}

// record writes an audit event. Audit failures never fail the operation.
func (m *Manager) record(ctx context.Context, event *audit.Event) {
	event.WithTimestamp(m.clock.Now().UTC())
	if id := audit.RequestIDFromContext(ctx); id != "" {
		event.WithRequestID(id)
	}
	if err := m.audit.Log(ctx, *event); err != nil {
		slog.Warn("collab: audit log failed",
			"action", event.ActionType,
			"entity_id", event.EntityID,
			slogKeyError, err)
	}
}

func cloneRange(r *Range) *Range {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
