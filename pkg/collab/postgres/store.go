// Package postgres provides PostgreSQL storage for collaboration sessions.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/codeengage/snippet-collab/pkg/collab"
)

const (
	table = "collaboration_sessions"

	// uniqueViolation is the SQLSTATE for a unique constraint failure.
	uniqueViolation = "23505"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var sessionColumns = []string{
	"id", "document_id", "token", "participants", "permissions", "cursors",
	"events", "edit_lock", "edit_intent", "last_activity", "created_at", "version",
}

// Store implements collab.Store using PostgreSQL. Optimistic concurrency is
// enforced with a version predicate on every UPDATE and DELETE.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL session store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a session at version 1.
func (s *Store) Create(ctx context.Context, sess *collab.Session) error {
	state, err := encodeState(sess)
	if err != nil {
		return err
	}

	query, args, err := psq.Insert(table).
		Columns(sessionColumns...).
		Values(sess.ID, sess.DocumentID, sess.Token,
			state.participants, state.permissions, state.cursors, state.events, state.lock, state.writer,
			sess.LastActivity, sess.CreatedAt, 1).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return collab.ErrDuplicate
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	sess.Version = 1
	return nil
}

// Get retrieves a session by ID. Returns nil, nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*collab.Session, error) {
	return s.getBy(ctx, "id", id)
}

// GetByToken retrieves a session by its join token. Returns nil, nil if not found.
func (s *Store) GetByToken(ctx context.Context, token string) (*collab.Session, error) {
	return s.getBy(ctx, "token", token)
}

// GetByDocument retrieves the session of a document. Returns nil, nil if none.
func (s *Store) GetByDocument(ctx context.Context, documentID string) (*collab.Session, error) {
	return s.getBy(ctx, "document_id", documentID)
}

func (s *Store) getBy(ctx context.Context, column, value string) (*collab.Session, error) {
	query, args, err := psq.Select(sessionColumns...).
		From(table).
		Where(sq.Eq{column: value}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session select: %w", err)
	}

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Update writes the session if the stored version still matches, then
// advances sess.Version.
func (s *Store) Update(ctx context.Context, sess *collab.Session) error {
	state, err := encodeState(sess)
	if err != nil {
		return err
	}

	query, args, err := psq.Update(table).
		Set("participants", state.participants).
		Set("permissions", state.permissions).
		Set("cursors", state.cursors).
		Set("events", state.events).
		Set("edit_lock", state.lock).
		Set("edit_intent", state.writer).
		Set("last_activity", sess.LastActivity).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": sess.ID}).
		Where(sq.Eq{"version": sess.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session update: %w", err)
	}

	if err := s.execVersioned(ctx, query, args, "updating session"); err != nil {
		return err
	}
	sess.Version++
	return nil
}

// Delete removes the session if the stored version still matches.
func (s *Store) Delete(ctx context.Context, id string, version int64) error {
	query, args, err := psq.Delete(table).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"version": version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session delete: %w", err)
	}
	return s.execVersioned(ctx, query, args, "deleting session")
}

func (s *Store) execVersioned(ctx context.Context, query string, args []any, op string) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return collab.ErrConflict
	}
	return nil
}

// DeleteIdle removes sessions idle since before cutoff in one statement and
// returns their IDs.
func (s *Store) DeleteIdle(ctx context.Context, cutoff time.Time) ([]string, error) {
	query, args, err := psq.Delete(table).
		Where(sq.Lt{"last_activity": cutoff}).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building idle session delete: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("deleting idle sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning deleted session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deleted session ids: %w", err)
	}
	return ids, nil
}

// Close is a no-op; the database handle belongs to the caller.
func (*Store) Close() error {
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// encodedState holds the JSONB column payloads of a session.
type encodedState struct {
	participants []byte
	permissions  []byte
	cursors      []byte
	events       []byte
	lock         []byte
	writer       []byte
}

func encodeState(sess *collab.Session) (encodedState, error) {
	var (
		st  encodedState
		err error
	)
	if st.participants, err = marshalOr(sess.Participants, "[]"); err != nil {
		return st, fmt.Errorf("marshaling participants: %w", err)
	}
	if st.permissions, err = marshalOr(sess.Permissions, "{}"); err != nil {
		return st, fmt.Errorf("marshaling permissions: %w", err)
	}
	if st.cursors, err = marshalOr(sess.Cursors, "{}"); err != nil {
		return st, fmt.Errorf("marshaling cursors: %w", err)
	}
	if st.events, err = marshalOr(sess.Events, "[]"); err != nil {
		return st, fmt.Errorf("marshaling events: %w", err)
	}
	if sess.Lock != nil {
		if st.lock, err = json.Marshal(sess.Lock); err != nil {
			return st, fmt.Errorf("marshaling edit lock: %w", err)
		}
	}
	if sess.Writer != nil {
		if st.writer, err = json.Marshal(sess.Writer); err != nil {
			return st, fmt.Errorf("marshaling edit intent: %w", err)
		}
	}
	return st, nil
}

// marshalOr encodes v, substituting empty when v is a nil slice or map.
func marshalOr(v any, empty string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return []byte(empty), nil
	}
	return b, nil
}

// scanSession scans a single row into a Session.
func scanSession(row *sql.Row) (*collab.Session, error) {
	var sess collab.Session
	var participants, permissions, cursors, events, lock, writer []byte

	err := row.Scan(&sess.ID, &sess.DocumentID, &sess.Token,
		&participants, &permissions, &cursors, &events, &lock, &writer,
		&sess.LastActivity, &sess.CreatedAt, &sess.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	targets := []struct {
		name string
		data []byte
		dst  any
	}{
		{"participants", participants, &sess.Participants},
		{"permissions", permissions, &sess.Permissions},
		{"cursors", cursors, &sess.Cursors},
		{"events", events, &sess.Events},
		{"edit_lock", lock, &sess.Lock},
		{"edit_intent", writer, &sess.Writer},
	}
	for _, t := range targets {
		if len(t.data) == 0 {
			continue
		}
		if err := json.Unmarshal(t.data, t.dst); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", t.name, err)
		}
	}

	if sess.Cursors == nil {
		sess.Cursors = make(map[string]collab.CursorState)
	}
	if sess.Events == nil {
		sess.Events = []collab.Event{}
	}
	sess.LastActivity = sess.LastActivity.UTC()
	sess.CreatedAt = sess.CreatedAt.UTC()
	return &sess, nil
}

// Verify interface compliance.
var _ collab.Store = (*Store)(nil)
