package collab

import (
	"context"
	"fmt"
)

// Gate decides whether a user may collaborate on a document.
type Gate struct {
	users       UserStore
	permissions PermissionChecker
}

// NewGate creates an authorization gate.
func NewGate(users UserStore, permissions PermissionChecker) *Gate {
	return &Gate{users: users, permissions: permissions}
}

// CanCollaborate evaluates, in order: ownership, the collaborate-any
// permission, public visibility, and organization membership for
// organization-visible documents. The first match allows; otherwise denied.
func (g *Gate) CanCollaborate(ctx context.Context, doc *Document, user *User) (bool, error) {
	if user.ID == doc.AuthorID {
		return true, nil
	}

	ok, err := g.permissions.HasPermission(ctx, user.ID, PermissionCollaborateAny)
	if err != nil {
		return false, fmt.Errorf("checking permission: %w", err)
	}
	if ok {
		return true, nil
	}

	switch doc.Visibility {
	case VisibilityPublic:
		return true, nil
	case VisibilityOrganization:
		if doc.OrganizationID == "" {
			return false, nil
		}
		member, err := g.users.IsMemberOfOrganization(ctx, user.ID, doc.OrganizationID)
		if err != nil {
			return false, fmt.Errorf("checking organization membership: %w", err)
		}
		return member, nil
	default:
		return false, nil
	}
}
