package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeengage/snippet-collab/pkg/collab"
	"github.com/codeengage/snippet-collab/pkg/directory"
)

var testStamp = time.Date(2025, 6, 15, 10, 30, 0, 123456000, time.UTC)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, Config{}), mr
}

func newTestSession(id, doc string, lastActivity time.Time) *collab.Session {
	sel := collab.Range{End: collab.Position{Line: 1, Column: 2}}
	return &collab.Session{
		ID:           id,
		DocumentID:   doc,
		Token:        "tok-" + id,
		Participants: []string{"alice", "bob"},
		Permissions:  map[string]collab.Permission{"alice": collab.PermissionEdit, "bob": collab.PermissionView},
		Cursors: map[string]collab.CursorState{
			"alice": {Line: 3, Column: 4, Selection: &sel, UpdatedAt: lastActivity},
		},
		Events: []collab.Event{{
			Seq: 1, Kind: collab.EventTextChange, UserID: "alice",
			Change:    &collab.EditRecord{Kind: collab.EditInsert, At: &collab.Position{Line: 1}, Text: "x"},
			Timestamp: lastActivity,
		}},
		LastActivity: lastActivity,
		CreatedAt:    lastActivity.Add(-time.Minute),
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	sess := newTestSession("s1", "doc-1", testStamp)
	require.NoError(t, store.Create(ctx, sess))
	assert.Equal(t, int64(1), sess.Version)

	byID, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sess, byID)

	byToken, err := store.GetByToken(ctx, "tok-s1")
	require.NoError(t, err)
	assert.Equal(t, sess, byToken)

	byDoc, err := store.GetByDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, sess, byDoc)

	assert.Equal(t, testStamp, byID.LastActivity, "sub-second precision survives")
}

func TestGet_Missing(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	for _, get := range []func() (*collab.Session, error){
		func() (*collab.Session, error) { return store.Get(ctx, "nope") },
		func() (*collab.Session, error) { return store.GetByToken(ctx, "nope") },
		func() (*collab.Session, error) { return store.GetByDocument(ctx, "nope") },
	} {
		sess, err := get()
		assert.NoError(t, err)
		assert.Nil(t, sess)
	}
}

func TestGet_CorruptRecord(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, mr.Set(DefaultPrefix+"session:bad", "\xff\xff"))

	_, err := store.Get(context.Background(), "bad")
	assert.ErrorContains(t, err, "decoding session")
}

func TestCreate_Duplicates(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	require.NoError(t, store.Create(ctx, newTestSession("s1", "doc-1", testStamp)))

	sameDoc := newTestSession("s2", "doc-1", testStamp)
	assert.ErrorIs(t, store.Create(ctx, sameDoc), collab.ErrDuplicate)

	sameToken := newTestSession("s3", "doc-3", testStamp)
	sameToken.Token = "tok-s1"
	assert.ErrorIs(t, store.Create(ctx, sameToken), collab.ErrDuplicate)

	got, _ := store.Get(ctx, "s2")
	assert.Nil(t, got)
}

func TestUpdate_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	sess := newTestSession("s1", "doc-1", testStamp)
	require.NoError(t, store.Create(ctx, sess))

	stale := sess.Clone()

	sess.Participants = []string{"alice"}
	sess.LastActivity = testStamp.Add(time.Second)
	require.NoError(t, store.Update(ctx, sess))
	assert.Equal(t, int64(2), sess.Version)

	got, _ := store.Get(ctx, "s1")
	assert.Equal(t, []string{"alice"}, got.Participants)
	assert.Equal(t, int64(2), got.Version)

	stale.Participants = nil
	assert.ErrorIs(t, store.Update(ctx, stale), collab.ErrConflict)
	assert.Equal(t, int64(1), stale.Version)

	missing := newTestSession("ghost", "doc-ghost", testStamp)
	missing.Version = 1
	assert.ErrorIs(t, store.Update(ctx, missing), collab.ErrConflict)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	sess := newTestSession("s1", "doc-1", testStamp)
	require.NoError(t, store.Create(ctx, sess))

	assert.ErrorIs(t, store.Delete(ctx, "s1", 7), collab.ErrConflict)
	require.NoError(t, store.Delete(ctx, "s1", 1))

	assert.False(t, mr.Exists(DefaultPrefix+"session:s1"))
	assert.False(t, mr.Exists(DefaultPrefix+"token:tok-s1"))
	assert.False(t, mr.Exists(DefaultPrefix+"document:doc-1"))

	assert.ErrorIs(t, store.Delete(ctx, "s1", 1), collab.ErrConflict)

	// The document is free again.
	assert.NoError(t, store.Create(ctx, newTestSession("s2", "doc-1", testStamp)))
}

func TestDeleteIdle(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	cutoff := testStamp
	require.NoError(t, store.Create(ctx, newTestSession("old", "doc-1", cutoff.Add(-time.Second))))
	require.NoError(t, store.Create(ctx, newTestSession("edge", "doc-2", cutoff)))
	require.NoError(t, store.Create(ctx, newTestSession("new", "doc-3", cutoff.Add(time.Second))))

	ids, err := store.DeleteIdle(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)

	got, _ := store.GetByDocument(ctx, "doc-1")
	assert.Nil(t, got)
	got, _ = store.Get(ctx, "edge")
	assert.NotNil(t, got)
}

func TestDeleteIdle_UsesLatestActivity(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	sess := newTestSession("s1", "doc-1", testStamp.Add(-time.Hour))
	require.NoError(t, store.Create(ctx, sess))

	sess.LastActivity = testStamp.Add(time.Hour)
	require.NoError(t, store.Update(ctx, sess))

	ids, err := store.DeleteIdle(ctx, testStamp)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDeleteIdle_DanglingEntry(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	_, err := mr.ZAdd(DefaultPrefix+"activity", 1, "ghost")
	require.NoError(t, err)

	ids, err := store.DeleteIdle(ctx, testStamp)
	require.NoError(t, err)
	assert.Empty(t, ids)

	assert.False(t, mr.Exists(DefaultPrefix+"activity"), "dangling entry is dropped")
}

func TestCustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := New(rdb, Config{Prefix: "tenant-a:"})
	require.NoError(t, store.Create(context.Background(), newTestSession("s1", "doc-1", testStamp)))
	assert.True(t, mr.Exists("tenant-a:session:s1"))
}

func TestManagerOverRedis(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	docs := directory.NewMemoryDocuments()
	docs.Add(collab.Document{ID: "doc-1", AuthorID: "alice", Visibility: collab.VisibilityPublic}, "hello")
	users := directory.NewMemoryUsers()
	users.Add(collab.User{ID: "alice", Username: "alice"})
	users.Add(collab.User{ID: "bob", Username: "bob"})

	mgr, err := collab.NewManager(collab.Deps{
		Store: store, Documents: docs, Users: users, Permissions: directory.NewMemoryPermissions(),
	}, collab.Config{})
	require.NoError(t, err)

	sess, err := mgr.CreateSession(ctx, "doc-1", "alice")
	require.NoError(t, err)
	joined, err := mgr.CreateSession(ctx, "doc-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, joined.ID)

	require.NoError(t, mgr.PushUpdate(ctx, sess.Token, "bob", collab.TextChange{Op: collab.Insert{Column: 5, Text: "!"}}))
	code, _, err := docs.LatestCode(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello!", code)

	delta, err := mgr.GetUpdates(ctx, sess.Token, "alice", time.Time{})
	require.NoError(t, err)
	require.Len(t, delta.Updates, 1)
	assert.Equal(t, collab.FeedTextChange, delta.Updates[0].Type)
}

var redisUsers = []string{"alice", "bob", "carol", "dave"}

// newRedisManager runs a Manager over miniredis with one public document.
func newRedisManager(t *testing.T, store *Store) (*collab.Manager, *directory.MemoryDocuments) {
	t.Helper()
	docs := directory.NewMemoryDocuments()
	docs.Add(collab.Document{ID: "doc-1", AuthorID: "alice", Visibility: collab.VisibilityPublic}, "hello")
	users := directory.NewMemoryUsers()
	for _, id := range redisUsers {
		users.Add(collab.User{ID: id, Username: id})
	}
	mgr, err := collab.NewManager(collab.Deps{
		Store: store, Documents: docs, Users: users, Permissions: directory.NewMemoryPermissions(),
	}, collab.Config{MaxRetries: 100})
	require.NoError(t, err)
	return mgr, docs
}

func TestManagerOverRedis_ConcurrentCreateSession(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	mgr, _ := newRedisManager(t, store)

	ids := make([]string, len(redisUsers))
	var wg sync.WaitGroup
	for i, user := range redisUsers {
		wg.Go(func() {
			sess, err := mgr.CreateSession(ctx, "doc-1", user)
			if assert.NoError(t, err, user) {
				ids[i] = sess.ID
			}
		})
	}
	wg.Wait()

	got, err := store.GetByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	for _, id := range ids {
		assert.Equal(t, got.ID, id)
	}
	assert.ElementsMatch(t, redisUsers, got.Participants)
}

func TestManagerOverRedis_ConcurrentPushes(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	mgr, docs := newRedisManager(t, store)

	sess, err := mgr.CreateSession(ctx, "doc-1", "alice")
	require.NoError(t, err)
	for _, user := range redisUsers[1:] {
		_, err := mgr.JoinSession(ctx, sess.Token, user)
		require.NoError(t, err)
	}

	const rounds = 3
	errs := make(chan error, 2*len(redisUsers)*rounds)
	var wg sync.WaitGroup
	for i, user := range redisUsers {
		wg.Go(func() {
			for r := range rounds {
				errs <- mgr.PushUpdate(ctx, sess.Token, user, collab.CursorUpdate{Line: uint(i), Column: uint(r)})
			}
		})
		wg.Go(func() {
			for r := range rounds {
				text := fmt.Sprintf("<%s%d>", user, r)
				errs <- mgr.PushUpdate(ctx, sess.Token, user, collab.TextChange{Op: collab.Insert{Text: text}})
			}
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.GetByToken(ctx, sess.Token)
	require.NoError(t, err)
	for i, user := range redisUsers {
		assert.Equal(t, uint(i), got.Cursors[user].Line, user)
		assert.Equal(t, uint(rounds-1), got.Cursors[user].Column, user)
	}
	assert.Len(t, got.Events, len(redisUsers)*rounds)
	assert.Nil(t, got.Writer)

	code, version, err := docs.LatestCode(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1+len(redisUsers)*rounds, version)
	assert.True(t, strings.HasSuffix(code, "hello"))
	for _, user := range redisUsers {
		for r := range rounds {
			assert.Contains(t, code, fmt.Sprintf("<%s%d>", user, r))
		}
	}
}

func TestDeleteIdle_RacingUpdate(t *testing.T) {
	ctx := context.Background()
	cutoff := testStamp

	for i := range 20 {
		store, _ := newTestStore(t)
		id := fmt.Sprintf("s%d", i)
		sess := newTestSession(id, "doc-1", cutoff.Add(-time.Hour))
		require.NoError(t, store.Create(ctx, sess))
		fresh := sess.Clone()
		fresh.LastActivity = cutoff.Add(time.Hour)

		var (
			wg        sync.WaitGroup
			updateErr error
			swept     []string
			sweepErr  error
		)
		wg.Go(func() { updateErr = store.Update(ctx, fresh) })
		wg.Go(func() { swept, sweepErr = store.DeleteIdle(ctx, cutoff) })
		wg.Wait()
		require.NoError(t, sweepErr)

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		if updateErr == nil {
			assert.Empty(t, swept, "a refreshed session is kept")
			assert.NotNil(t, got)
		} else {
			assert.ErrorIs(t, updateErr, collab.ErrConflict)
			assert.Equal(t, []string{id}, swept)
			assert.Nil(t, got)
		}
	}
}
