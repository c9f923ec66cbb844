package collab_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeengage/snippet-collab/pkg/audit"
	"github.com/codeengage/snippet-collab/pkg/collab"
	"github.com/codeengage/snippet-collab/pkg/directory"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	docPublic  = "doc-public"
	docPrivate = "doc-private"
	docOrg     = "doc-org"
	orgID      = "org-1"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	mgr   *collab.Manager
	store *collab.MemoryStore
	docs  *directory.MemoryDocuments
	users *directory.MemoryUsers
	perms *directory.MemoryPermissions
	audit *audit.MemoryLogger
	clock *fakeClock
}

// newFixture seeds alice as the owner of three documents, bob and carol as
// plain users, and dave as a member of alice's organization.
func newFixture(t *testing.T, cfg collab.Config) *fixture {
	t.Helper()

	f := &fixture{
		store: collab.NewMemoryStore(),
		docs:  directory.NewMemoryDocuments(),
		users: directory.NewMemoryUsers(),
		perms: directory.NewMemoryPermissions(),
		audit: audit.NewMemoryLogger(),
		clock: &fakeClock{now: epoch},
	}

	for _, name := range []string{"alice", "bob", "carol", "dave", "erin"} {
		f.users.Add(collab.User{ID: name, Username: name})
	}
	f.users.AddMember(orgID, "dave")

	f.docs.Add(collab.Document{ID: docPublic, AuthorID: "alice", Visibility: collab.VisibilityPublic}, "foo\nbar\nbaz")
	f.docs.Add(collab.Document{ID: docPrivate, AuthorID: "alice", Visibility: collab.VisibilityPrivate}, "secret")
	f.docs.Add(collab.Document{ID: docOrg, AuthorID: "alice", OrganizationID: orgID, Visibility: collab.VisibilityOrganization}, "org")

	if cfg.InviteKey == nil {
		cfg.InviteKey = []byte("test-invite-key-0123456789abcdef")
	}

	mgr, err := collab.NewManager(collab.Deps{
		Store:       f.store,
		Documents:   f.docs,
		Users:       f.users,
		Permissions: f.perms,
		Audit:       f.audit,
		Clock:       f.clock,
	}, cfg)
	require.NoError(t, err)
	f.mgr = mgr
	return f
}

// step advances the clock so consecutive operations get distinct stamps.
func (f *fixture) step() {
	f.clock.Advance(time.Second)
}

func (f *fixture) create(t *testing.T, doc, user string) *collab.Session {
	t.Helper()
	sess, err := f.mgr.CreateSession(context.Background(), doc, user)
	require.NoError(t, err)
	f.step()
	return sess
}

func (f *fixture) join(t *testing.T, token, user string) *collab.Session {
	t.Helper()
	sess, err := f.mgr.JoinSession(context.Background(), token, user)
	require.NoError(t, err)
	f.step()
	return sess
}

func (f *fixture) code(t *testing.T, doc string) string {
	t.Helper()
	code, _, err := f.docs.LatestCode(context.Background(), doc)
	require.NoError(t, err)
	return code
}

func uintPtr(v uint) *uint { return &v }
