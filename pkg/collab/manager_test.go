package collab_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeengage/snippet-collab/pkg/audit"
	"github.com/codeengage/snippet-collab/pkg/collab"
	"github.com/codeengage/snippet-collab/pkg/directory"
)

func TestNewManager_RequiresCollaborators(t *testing.T) {
	_, err := collab.NewManager(collab.Deps{}, collab.Config{})
	assert.Error(t, err)

	mgr, err := collab.NewManager(collab.Deps{
		Store:       collab.NewMemoryStore(),
		Documents:   directory.NewMemoryDocuments(),
		Users:       directory.NewMemoryUsers(),
		Permissions: directory.NewMemoryPermissions(),
	}, collab.Config{})
	require.NoError(t, err)

	cfg := mgr.Config()
	assert.Equal(t, collab.DefaultSessionTimeout, cfg.SessionTimeout)
	assert.Equal(t, collab.DefaultMaxParticipants, cfg.MaxParticipants)
	assert.Equal(t, collab.DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, collab.DefaultLockTTL, cfg.LockTTL)
	assert.Equal(t, collab.DefaultMessageLimit, cfg.MessageLimit)
	assert.Equal(t, collab.DefaultWriteTimeout, cfg.WriteTimeout)
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t, collab.Config{})

	sess := f.create(t, docPublic, "alice")

	assert.NotEmpty(t, sess.ID)
	assert.Len(t, sess.Token, 2*collab.TokenBytes)
	assert.Equal(t, []string{"alice"}, sess.Participants)
	assert.Equal(t, docPublic, sess.DocumentID)
	assert.Equal(t, epoch, sess.CreatedAt)
	assert.Equal(t, sess.CreatedAt, sess.LastActivity)
	assert.Equal(t, []string{audit.ActionSessionCreated}, f.audit.Actions())
}

func TestCreateSession_SecondCreatorJoinsExisting(t *testing.T) {
	f := newFixture(t, collab.Config{})

	first := f.create(t, docPublic, "alice")
	second := f.create(t, docPublic, "bob")

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, []string{"alice", "bob"}, second.Participants)
	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, []string{audit.ActionSessionCreated, audit.ActionSessionJoined}, f.audit.Actions())
}

func TestCreateSession_Authorization(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		doc     string
		user    string
		grant   bool
		wantErr error
	}{
		{name: "owner of private document", doc: docPrivate, user: "alice"},
		{name: "stranger on private document", doc: docPrivate, user: "bob", wantErr: collab.ErrNotAllowed},
		{name: "collaborate-any permission", doc: docPrivate, user: "bob", grant: true},
		{name: "anyone on public document", doc: docPublic, user: "carol"},
		{name: "organization member", doc: docOrg, user: "dave"},
		{name: "non-member on organization document", doc: docOrg, user: "erin", wantErr: collab.ErrNotAllowed},
		{name: "unknown document", doc: "missing", user: "alice", wantErr: collab.ErrDocumentNotFound},
		{name: "unknown user", doc: docPublic, user: "mallory", wantErr: collab.ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, collab.Config{})
			if tt.grant {
				f.perms.Grant(tt.user, collab.PermissionCollaborateAny)
			}

			_, err := f.mgr.CreateSession(ctx, tt.doc, tt.user)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, f.store.Len())
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCreateSession_ReclaimsExpiredSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, collab.Config{SessionTimeout: time.Hour})

	old := f.create(t, docPublic, "alice")
	f.clock.Advance(2 * time.Hour)

	fresh, err := f.mgr.CreateSession(ctx, docPublic, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.NotEqual(t, old.Token, fresh.Token)
	assert.Equal(t, []string{"bob"}, fresh.Participants)
	assert.Equal(t, 1, f.store.Len())

	_, err = f.mgr.JoinSession(ctx, old.Token, "carol")
	assert.ErrorIs(t, err, collab.ErrSessionNotFound)
	assert.Contains(t, f.audit.Actions(), audit.ActionSessionExpired)
}

func TestJoinSession_Capacity(t *testing.T) {
	f := newFixture(t, collab.Config{MaxParticipants: 3})

	sess := f.create(t, docPublic, "alice")
	f.join(t, sess.Token, "bob")
	f.join(t, sess.Token, "carol")

	_, err := f.mgr.JoinSession(context.Background(), sess.Token, "dave")
	assert.ErrorIs(t, err, collab.ErrSessionFull)
	assert.Equal(t, collab.KindValidation, collab.KindOf(err))

	got, _ := f.store.GetByToken(context.Background(), sess.Token)
	assert.Len(t, got.Participants, 3)

	// Existing participants are not subject to the capacity check.
	again := f.join(t, sess.Token, "carol")
	assert.Len(t, again.Participants, 3)
}

func TestJoinSession_Idempotent(t *testing.T) {
	f := newFixture(t, collab.Config{})

	sess := f.create(t, docPublic, "alice")
	first := f.join(t, sess.Token, "bob")
	second := f.join(t, sess.Token, "bob")

	assert.Equal(t, first.Participants, second.Participants)
	assert.Equal(t, first.LastActivity, second.LastActivity)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, []string{audit.ActionSessionCreated, audit.ActionSessionJoined}, f.audit.Actions())
}

func TestJoinSession_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown token", func(t *testing.T) {
		f := newFixture(t, collab.Config{})
		_, err := f.mgr.JoinSession(ctx, "nope", "bob")
		assert.ErrorIs(t, err, collab.ErrSessionNotFound)
		assert.Equal(t, collab.KindNotFound, collab.KindOf(err))
	})

	t.Run("gate denies", func(t *testing.T) {
		f := newFixture(t, collab.Config{})
		sess := f.create(t, docPrivate, "alice")
		_, err := f.mgr.JoinSession(ctx, sess.Token, "bob")
		assert.ErrorIs(t, err, collab.ErrNotAllowed)
		assert.Equal(t, collab.KindUnauthorized, collab.KindOf(err))
	})

	t.Run("expired but not yet swept", func(t *testing.T) {
		f := newFixture(t, collab.Config{SessionTimeout: time.Hour})
		sess := f.create(t, docPublic, "alice")
		f.clock.Advance(time.Hour)
		_, err := f.mgr.JoinSession(ctx, sess.Token, "bob")
		assert.ErrorIs(t, err, collab.ErrSessionExpired)
		assert.Equal(t, "session expired", err.Error())
	})

	t.Run("exactly at timeout is still live", func(t *testing.T) {
		f := newFixture(t, collab.Config{SessionTimeout: time.Hour})
		sess := f.create(t, docPublic, "alice")
		f.clock.Advance(time.Hour - time.Second)
		_, err := f.mgr.JoinSession(ctx, sess.Token, "bob")
		assert.NoError(t, err)
	})
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()

	t.Run("last participant deletes the session", func(t *testing.T) {
		f := newFixture(t, collab.Config{})
		sess := f.create(t, docPublic, "alice")

		require.NoError(t, f.mgr.EndSession(ctx, sess.Token, "alice"))
		assert.Equal(t, 0, f.store.Len())

		_, err := f.mgr.JoinSession(ctx, sess.Token, "bob")
		assert.ErrorIs(t, err, collab.ErrSessionNotFound)
		assert.Equal(t, audit.ActionSessionLeft, f.audit.Actions()[len(f.audit.Actions())-1])
	})

	t.Run("remaining participants keep the session", func(t *testing.T) {
		f := newFixture(t, collab.Config{})
		sess := f.create(t, docPublic, "alice")
		joined := f.join(t, sess.Token, "bob")

		require.NoError(t, f.mgr.PushUpdate(ctx, sess.Token, "bob", collab.CursorUpdate{Line: 1}))
		require.NoError(t, f.mgr.EndSession(ctx, sess.Token, "bob"))

		got, _ := f.store.GetByToken(ctx, sess.Token)
		require.NotNil(t, got)
		assert.Equal(t, []string{"alice"}, got.Participants)
		assert.NotContains(t, got.Cursors, "bob")
		assert.True(t, got.LastActivity.After(joined.LastActivity))
	})

	t.Run("owner may end without participating", func(t *testing.T) {
		f := newFixture(t, collab.Config{})
		sess := f.create(t, docPublic, "bob")

		require.NoError(t, f.mgr.EndSession(ctx, sess.Token, "alice"))
		got, _ := f.store.GetByToken(ctx, sess.Token)
		require.NotNil(t, got)
		assert.Equal(t, []string{"bob"}, got.Participants)
	})

	t.Run("stranger is refused", func(t *testing.T) {
		f := newFixture(t, collab.Config{})
		sess := f.create(t, docPublic, "alice")

		err := f.mgr.EndSession(ctx, sess.Token, "carol")
		assert.ErrorIs(t, err, collab.ErrCannotEnd)
		assert.Equal(t, collab.KindUnauthorized, collab.KindOf(err))
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newFixture(t, collab.Config{})
		assert.ErrorIs(t, f.mgr.EndSession(ctx, "nope", "alice"), collab.ErrSessionNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		f := newFixture(t, collab.Config{SessionTimeout: time.Minute})
		sess := f.create(t, docPublic, "alice")
		f.clock.Advance(time.Hour)
		assert.ErrorIs(t, f.mgr.EndSession(ctx, sess.Token, "alice"), collab.ErrSessionExpired)
	})
}

func TestPushUpdate_Cursor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, collab.Config{})
	sess := f.create(t, docPublic, "alice")

	sel := collab.Range{End: collab.Position{Line: 0, Column: 3}}
	require.NoError(t, f.mgr.PushUpdate(ctx, sess.Token, "alice", collab.CursorUpdate{Line: 2, Column: 1, Selection: &sel}))
	f.step()
	require.NoError(t, f.mgr.PushUpdate(ctx, sess.Token, "alice", collab.CursorUpdate{Line: 3, Column: 4}))

	got, _ := f.store.GetByToken(ctx, sess.Token)
	cur := got.Cursors["alice"]
	assert.Equal(t, uint(3), cur.Line)
	assert.Equal(t, uint(4), cur.Column)
	assert.Nil(t, cur.Selection, "a cursor update without selection clears it")
	assert.Equal(t, got.LastActivity, cur.UpdatedAt)
	assert.Equal(t, []string{audit.ActionSessionCreated}, f.audit.Actions(), "cursor updates are not audited")
}

func TestPushUpdate_SelectionMergesIntoCursor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, collab.Config{})
	sess := f.create(t, docPublic, "alice")
	f.join(t, sess.Token, "bob")

	sel := collab.Range{Start: collab.Position{Line: 1}, End: collab.Position{Line: 1, Column: 2}}

	require.NoError(t, f.mgr.PushUpdate(ctx, sess.Token, "bob", collab.SelectionUpdate{Selection: sel}))
	got, _ := f.store.GetByToken(ctx, sess.Token)
	assert.Equal(t, uint(0), got.Cursors["bob"].Line, "position defaults to 0,0")
	assert.Equal(t, &sel, got.Cursors["bob"].Selection)

	f.step()
	require.NoError(t, f.mgr.PushUpdate(ctx, sess.Token, "alice", collab.CursorUpdate{Line: 5, Column: 6}))
	f.step()
	require.NoError(t, f.mgr.PushUpdate(ctx, sess.Token, "alice", collab.SelectionUpdate{Selection: sel}))
	got, _ = f.store.GetByToken(ctx, sess.Token)
	assert.Equal(t, uint(5), got.Cursors["alice"].Line, "selection keeps the caret")
	assert.Equal(t, uint(6), got.Cursors["alice"].Column)
	assert.Equal(t, &sel, got.Cursors["alice"].Selection)
}

func TestPushUpdate_Message(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, collab.Config{})
	sess := f.create(t, docPublic, "alice")

	require.NoError(t, f.mgr.PushUpdate(ctx, sess.Token, "alice", collab.Message{Text: "see line 2", LineRef: uintPtr(2)}))

	got, _ := f.store.GetByToken(ctx, sess.Token)
	require.Len(t, got.Events, 1)
	ev := got.Events[0]
	assert.Equal(t, collab.EventChat, ev.Kind)
	assert.Equal(t, int64(1), ev.Seq)
	assert.Equal(t, "alice", ev.UserID)
	assert.Equal(t, "see line 2", ev.Message.Text)
	assert.Equal(t, uint(2), *ev.Message.LineRef)

	assert.ErrorIs(t, f.mgr.PushUpdate(ctx, sess.Token, "alice", collab.Message{Text: "   "}), collab.ErrInvalidUpdate)
	err := f.mgr.PushUpdate(ctx, sess.Token, "alice", collab.Message{Text: strings.Repeat("x", collab.MaxMessageLength+1)})
	assert.Equal(t, collab.KindValidation, collab.KindOf(err))
}

func TestPushUpdate_UnknownKindIsAcceptedNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, collab.Config{})
	sess := f.create(t, docPublic, "alice")

	require.NoError(t, f.mgr.PushUpdate(ctx, sess.Token, "alice", collab.UnknownUpdate{Kind: "presence"}))

	got, _ := f.store.GetByToken(ctx, sess.Token)
	assert.Empty(t, got.Events)
	assert.Empty(t, got.Cursors)
	assert.True(t, got.LastActivity.After(sess.LastActivity), "activity still advances")
}

func TestPushUpdate_MembershipAndLiveness(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, collab.Config{SessionTimeout: time.Hour})
	sess := f.create(t, docPublic, "alice")

	assert.ErrorIs(t, f.mgr.PushUpdate(ctx, "nope", "alice", collab.CursorUpdate{}), collab.ErrSessionNotFound)
	assert.ErrorIs(t, f.mgr.PushUpdate(ctx, sess.Token, "bob", collab.CursorUpdate{}), collab.ErrNotParticipant)
	assert.ErrorIs(t, f.mgr.PushUpdate(ctx, sess.Token, "alice", nil), collab.ErrInvalidUpdate)

	f.clock.Advance(2 * time.Hour)
	assert.ErrorIs(t, f.mgr.PushUpdate(ctx, sess.Token, "alice", collab.CursorUpdate{}), collab.ErrSessionExpired)
	assert.ErrorIs(t,
		f.mgr.PushUpdate(ctx, sess.Token, "alice", collab.TextChange{Op: collab.Insert{Text: "x"}}),
		collab.ErrSessionExpired)
}

func TestPushUpdate_TextChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, collab.Config{})
	sess := f.create(t, docPublic, "alice")

	op := collab.Delete{Range: collab.Range{
		Start: collab.Position{Line: 0, Column: 1},
		End:   collab.Position{Line: 2, Column: 2},
	}}
	require.NoError(t, f.mgr.PushUpdate(ctx, sess.Token, "alice", collab.TextChange{Op: op}))

	assert.Equal(t, "fz", f.code(t, docPublic))
	versions := f.docs.Versions(docPublic)
	require.Len(t, versions, 2)
	assert.Equal(t, "alice", versions[1].EditorID)
	assert.Contains(t, versions[1].ChangeSummary, "delete")

	got, _ := f.store.GetByToken(ctx, sess.Token)
	require.Len(t, got.Events, 1)
	ev := got.Events[0]
	assert.Equal(t, collab.EventTextChange, ev.Kind)
	require.NotNil(t, ev.Change)
	back, err := ev.Change.Op()
	require.NoError(t, err)
	assert.Equal(t, op, back)

	events := f.audit.Events()
	last := events[len(events)-1]
	assert.Equal(t, audit.ActionTextChange, last.ActionType)
	assert.Equal(t, audit.EntitySnippet, last.EntityType)
	assert.Equal(t, docPublic, last.EntityID)
	assert.Equal(t, "alice", last.ActorID)
}

func TestPushUpdate_TextChangeRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("no-op edit", func(t *testing.T) {
		f := newFixture(t, collab.Config{})
		sess := f.create(t, docPublic, "alice")
		outOfRange := collab.Delete{Range: collab.Range{Start: collab.Position{Line: 9}, End: collab.Position{Line: 10}}}
		err := f.mgr.PushUpdate(ctx, sess.Token, "alice", collab.TextChange{Op: outOfRange})
		assert.ErrorIs(t, err, collab.ErrNoopEdit)
		assert.Len(t, f.docs.Versions(docPublic), 1)
	})

	t.Run("reversed range", func(t *testing.T) {
		f := newFixture(t, collab.Config{})
		sess := f.create(t, docPublic, "alice")
		reversed := collab.Delete{Range: collab.Range{Start: collab.Position{Line: 2}, End: collab.Position{Line: 1}}}
		err := f.mgr.PushUpdate(ctx, sess.Token, "alice", collab.TextChange{Op: reversed})
		assert.ErrorIs(t, err, collab.ErrInvalidEdit)
	})

	t.Run("missing op", func(t *testing.T) {
		f := newFixture(t, collab.Config{})
		sess := f.create(t, docPublic, "alice")
		assert.ErrorIs(t, f.mgr.PushUpdate(ctx, sess.Token, "alice", collab.TextChange{}), collab.ErrInvalidEdit)
	})

	t.Run("gate is re-checked", func(t *testing.T) {
		f := newFixture(t, collab.Config{})
		sess := f.create(t, docPublic, "alice")
		f.join(t, sess.Token, "bob")
		require.NoError(t, f.docs.SetVisibility(docPublic, collab.VisibilityPrivate))

		err := f.mgr.PushUpdate(ctx, sess.Token, "bob", collab.TextChange{Op: collab.Insert{Text: "x"}})
		assert.ErrorIs(t, err, collab.ErrNotAllowed)
		assert.NoError(t, f.mgr.PushUpdate(ctx, sess.Token, "bob", collab.CursorUpdate{}), "non-text updates only need membership")
	})

	t.Run("document deleted", func(t *testing.T) {
		f := newFixture(t, collab.Config{})
		sess := f.create(t, docPublic, "alice")
		// A manager over an empty catalog sees the snippet as deleted.
		mgr, err := collab.NewManager(collab.Deps{
			Store: f.store, Documents: directory.NewMemoryDocuments(), Users: f.users, Permissions: f.perms, Clock: f.clock,
		}, collab.Config{})
		require.NoError(t, err)
		err = mgr.PushUpdate(ctx, sess.Token, "alice", collab.TextChange{Op: collab.Insert{Text: "x"}})
		assert.ErrorIs(t, err, collab.ErrDocumentNotFound)
	})
}

// conflictStore fails the first n writes with a version conflict.
type conflictStore struct {
	*collab.MemoryStore
	remaining atomic.Int32
}

func (s *conflictStore) Update(ctx context.Context, sess *collab.Session) error {
	if s.remaining.Add(-1) >= 0 {
		return collab.ErrConflict
	}
	return s.MemoryStore.Update(ctx, sess)
}

func newConflictFixture(t *testing.T, conflicts int32, cfg collab.Config) (*fixture, *collab.Manager, *conflictStore) {
	t.Helper()
	f := newFixture(t, cfg)
	store := &conflictStore{MemoryStore: f.store}
	store.remaining.Store(conflicts)
	mgr, err := collab.NewManager(collab.Deps{
		Store: store, Documents: f.docs, Users: f.users, Permissions: f.perms, Clock: f.clock,
	}, cfg)
	require.NoError(t, err)
	return f, mgr, store
}

func TestMutate_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	f, mgr, _ := newConflictFixture(t, 2, collab.Config{MaxRetries: 3})
	sess := f.create(t, docPublic, "alice")

	require.NoError(t, mgr.PushUpdate(ctx, sess.Token, "alice", collab.CursorUpdate{Line: 7}))
	got, _ := f.store.GetByToken(ctx, sess.Token)
	assert.Equal(t, uint(7), got.Cursors["alice"].Line)
}

func TestMutate_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	f, mgr, _ := newConflictFixture(t, 100, collab.Config{MaxRetries: 2})
	sess := f.create(t, docPublic, "alice")

	err := mgr.PushUpdate(ctx, sess.Token, "alice", collab.CursorUpdate{Line: 7})
	assert.Equal(t, collab.KindInternal, collab.KindOf(err))

	got, _ := f.store.GetByToken(ctx, sess.Token)
	assert.Empty(t, got.Cursors, "nothing was written")
}

// brokenStore fails every read.
type brokenStore struct {
	*collab.MemoryStore
}

func (brokenStore) GetByToken(context.Context, string) (*collab.Session, error) {
	return nil, errors.New("connection reset")
}

func TestStoreFailureIsInternal(t *testing.T) {
	f := newFixture(t, collab.Config{})
	mgr, err := collab.NewManager(collab.Deps{
		Store: brokenStore{f.store}, Documents: f.docs, Users: f.users, Permissions: f.perms, Clock: f.clock,
	}, collab.Config{})
	require.NoError(t, err)

	err = mgr.PushUpdate(context.Background(), "tok", "alice", collab.CursorUpdate{})
	assert.Equal(t, collab.KindInternal, collab.KindOf(err))
	assert.ErrorContains(t, err, "connection reset")
}

type failingAudit struct{ calls atomic.Int32 }

func (a *failingAudit) Log(context.Context, audit.Event) error {
	a.calls.Add(1)
	return errors.New("audit down")
}

func (*failingAudit) Close() error { return nil }

func TestAuditFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t, collab.Config{})
	sink := &failingAudit{}
	mgr, err := collab.NewManager(collab.Deps{
		Store: f.store, Documents: f.docs, Users: f.users, Permissions: f.perms, Clock: f.clock, Audit: sink,
	}, collab.Config{})
	require.NoError(t, err)

	_, err = mgr.CreateSession(context.Background(), docPublic, "alice")
	assert.NoError(t, err)
	assert.Equal(t, int32(1), sink.calls.Load())
}

func TestAuditCarriesRequestID(t *testing.T) {
	f := newFixture(t, collab.Config{})
	ctx := audit.WithRequestID(context.Background(), "req-42")

	_, err := f.mgr.CreateSession(ctx, docPublic, "alice")
	require.NoError(t, err)
	assert.Equal(t, "req-42", f.audit.Events()[0].RequestID)
}
