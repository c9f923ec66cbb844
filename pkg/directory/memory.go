package directory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/codeengage/snippet-collab/pkg/collab"
)

type memorySnippet struct {
	doc      collab.Document
	versions []Version
}

// MemoryDocuments implements collab.DocumentStore in process.
type MemoryDocuments struct {
	mu       sync.RWMutex
	snippets map[string]*memorySnippet
}

// NewMemoryDocuments creates an empty document store.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{snippets: make(map[string]*memorySnippet)}
}

// Add registers a document with its initial code as version 1.
func (d *MemoryDocuments) Add(doc collab.Document, code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snippets[doc.ID] = &memorySnippet{
		doc: doc,
		versions: []Version{{
			Number:    1,
			Code:      code,
			Checksum:  Checksum(code),
			EditorID:  doc.AuthorID,
			CreatedAt: time.Now().UTC(),
		}},
	}
}

// SetVisibility changes a document's visibility.
func (d *MemoryDocuments) SetVisibility(id string, v collab.Visibility) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.snippets[id]
	if !ok {
		return ErrSnippetNotFound
	}
	s.doc.Visibility = v
	return nil
}

// FindByID returns the document, or nil, nil when unknown.
func (d *MemoryDocuments) FindByID(_ context.Context, id string) (*collab.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.snippets[id]
	if !ok {
		return nil, nil //nolint:nilnil // DocumentStore contract: nil,nil for not-found
	}
	doc := s.doc
	return &doc, nil
}

// LatestCode returns the newest code and its version number, or "", 0 when
// the document has none.
func (d *MemoryDocuments) LatestCode(_ context.Context, id string) (string, int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.snippets[id]
	if !ok || len(s.versions) == 0 {
		return "", 0, nil
	}
	latest := s.versions[len(s.versions)-1]
	return latest.Code, latest.Number, nil
}

// CreateVersion appends version base+1, or returns collab.ErrConflict when
// base is not the newest version.
func (d *MemoryDocuments) CreateVersion(_ context.Context, id string, base int, code, editorID, summary string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.snippets[id]
	if !ok {
		return ErrSnippetNotFound
	}
	if s.latest() != base {
		return collab.ErrConflict
	}
	s.versions = append(s.versions, Version{
		Number:        base + 1,
		Code:          code,
		Checksum:      Checksum(code),
		EditorID:      editorID,
		ChangeSummary: summary,
		CreatedAt:     time.Now().UTC(),
	})
	return nil
}

func (s *memorySnippet) latest() int {
	if len(s.versions) == 0 {
		return 0
	}
	return s.versions[len(s.versions)-1].Number
}

// Versions returns every version of a document, oldest first.
func (d *MemoryDocuments) Versions(id string) []Version {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.snippets[id]
	if !ok {
		return nil
	}
	return slices.Clone(s.versions)
}

// MemoryUsers implements collab.UserStore in process.
type MemoryUsers struct {
	mu      sync.RWMutex
	users   map[string]collab.User
	members map[string]map[string]bool
}

// NewMemoryUsers creates an empty user store.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{
		users:   make(map[string]collab.User),
		members: make(map[string]map[string]bool),
	}
}

// Add registers a user.
func (u *MemoryUsers) Add(user collab.User) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users[user.ID] = user
}

// AddMember adds userID to organization orgID.
func (u *MemoryUsers) AddMember(orgID, userID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.members[orgID] == nil {
		u.members[orgID] = make(map[string]bool)
	}
	u.members[orgID][userID] = true
}

// FindByID returns the user, or nil, nil when unknown.
func (u *MemoryUsers) FindByID(_ context.Context, id string) (*collab.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.users[id]
	if !ok {
		return nil, nil //nolint:nilnil // UserStore contract: nil,nil for not-found
	}
	return &user, nil
}

// IsMemberOfOrganization reports organization membership.
func (u *MemoryUsers) IsMemberOfOrganization(_ context.Context, userID, orgID string) (bool, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.members[orgID][userID], nil
}

// MemoryPermissions implements collab.PermissionChecker with direct grants.
type MemoryPermissions struct {
	mu     sync.RWMutex
	grants map[string]map[string]bool
}

// NewMemoryPermissions creates a checker with no grants.
func NewMemoryPermissions() *MemoryPermissions {
	return &MemoryPermissions{grants: make(map[string]map[string]bool)}
}

// Grant gives userID a permission.
func (p *MemoryPermissions) Grant(userID, permission string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.grants[userID] == nil {
		p.grants[userID] = make(map[string]bool)
	}
	p.grants[userID][permission] = true
}

// HasPermission reports whether userID holds permission.
func (p *MemoryPermissions) HasPermission(_ context.Context, userID, permission string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.grants[userID][permission], nil
}

// Verify interface compliance.
var (
	_ collab.DocumentStore     = (*MemoryDocuments)(nil)
	_ collab.UserStore         = (*MemoryUsers)(nil)
	_ collab.PermissionChecker = (*MemoryPermissions)(nil)
)
