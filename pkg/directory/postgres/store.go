// Package postgres provides PostgreSQL-backed directory lookups: snippets
// and their versions, users, organization membership and role permissions.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/codeengage/snippet-collab/pkg/collab"
	"github.com/codeengage/snippet-collab/pkg/directory"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Documents implements collab.DocumentStore over the snippets tables.
type Documents struct {
	db  *sql.DB
	now func() time.Time
}

// NewDocuments creates a snippet store.
func NewDocuments(db *sql.DB) *Documents {
	return &Documents{db: db, now: time.Now}
}

// FindByID returns the snippet, or nil, nil when it does not exist.
func (d *Documents) FindByID(ctx context.Context, id string) (*collab.Document, error) {
	query, args, err := psq.Select("id", "author_id", "organization_id", "visibility").
		From("snippets").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building snippet select: %w", err)
	}

	var doc collab.Document
	var orgID sql.NullString
	var visibility string
	err = d.db.QueryRowContext(ctx, query, args...).Scan(&doc.ID, &doc.AuthorID, &orgID, &visibility)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // DocumentStore contract: nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("scanning snippet: %w", err)
	}
	doc.OrganizationID = orgID.String
	doc.Visibility = collab.Visibility(visibility)
	return &doc, nil
}

// LatestCode returns the newest code and its version number, or "", 0 when
// the snippet has none.
func (d *Documents) LatestCode(ctx context.Context, id string) (string, int, error) {
	query, args, err := psq.Select("code", "version_number").
		From("snippet_versions").
		Where(sq.Eq{"snippet_id": id}).
		OrderBy("version_number DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return "", 0, fmt.Errorf("building latest version select: %w", err)
	}

	var code string
	var version int
	err = d.db.QueryRowContext(ctx, query, args...).Scan(&code, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("scanning latest version: %w", err)
	}
	return code, version, nil
}

// CreateVersion inserts version base+1. The snippet row is locked for the
// duration, and a newest version other than base returns
// collab.ErrConflict.
func (d *Documents) CreateVersion(ctx context.Context, id string, base int, code, editorID, summary string) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning version transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	latest, err := lockLatest(ctx, tx, id)
	if err != nil {
		return err
	}
	if latest != base {
		return collab.ErrConflict
	}

	now := d.now().UTC()
	insert, insertArgs, err := psq.Insert("snippet_versions").
		Columns("snippet_id", "version_number", "code", "checksum", "editor_id", "change_summary", "created_at").
		Values(id, base+1, code, directory.Checksum(code), editorID, summary, now).
		ToSql()
	if err != nil {
		return fmt.Errorf("building version insert: %w", err)
	}
	if _, err = tx.ExecContext(ctx, insert, insertArgs...); err != nil {
		return fmt.Errorf("inserting version: %w", err)
	}

	update, updateArgs, err := psq.Update("snippets").
		Set("updated_at", now).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building snippet update: %w", err)
	}
	if _, err = tx.ExecContext(ctx, update, updateArgs...); err != nil {
		return fmt.Errorf("touching snippet: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing version: %w", err)
	}
	return nil
}

// lockLatest locks the snippet row and returns its newest version number.
func lockLatest(ctx context.Context, tx *sql.Tx, id string) (int, error) {
	lockQuery, lockArgs, err := psq.Select("id").
		From("snippets").
		Where(sq.Eq{"id": id}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building snippet lock: %w", err)
	}
	var locked string
	if err := tx.QueryRowContext(ctx, lockQuery, lockArgs...).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, directory.ErrSnippetNotFound
		}
		return 0, fmt.Errorf("locking snippet: %w", err)
	}

	latestQuery, latestArgs, err := psq.Select("COALESCE(MAX(version_number), 0)").
		From("snippet_versions").
		Where(sq.Eq{"snippet_id": id}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building latest version number select: %w", err)
	}
	var latest int
	if err := tx.QueryRowContext(ctx, latestQuery, latestArgs...).Scan(&latest); err != nil {
		return 0, fmt.Errorf("reading latest version number: %w", err)
	}
	return latest, nil
}

// Users implements collab.UserStore.
type Users struct {
	db *sql.DB
}

// NewUsers creates a user store.
func NewUsers(db *sql.DB) *Users {
	return &Users{db: db}
}

// FindByID returns the user, or nil, nil when it does not exist.
func (u *Users) FindByID(ctx context.Context, id string) (*collab.User, error) {
	query, args, err := psq.Select("id", "username").
		From("users").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user select: %w", err)
	}

	var user collab.User
	err = u.db.QueryRowContext(ctx, query, args...).Scan(&user.ID, &user.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // UserStore contract: nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &user, nil
}

// IsMemberOfOrganization reports whether the user belongs to the organization.
func (u *Users) IsMemberOfOrganization(ctx context.Context, userID, orgID string) (bool, error) {
	inner := psq.Select("1").
		From("organization_members").
		Where(sq.Eq{"organization_id": orgID}).
		Where(sq.Eq{"user_id": userID})
	return exists(ctx, u.db, inner, "organization membership")
}

// Permissions implements collab.PermissionChecker over user roles.
type Permissions struct {
	db *sql.DB
}

// NewPermissions creates a permission checker.
func NewPermissions(db *sql.DB) *Permissions {
	return &Permissions{db: db}
}

// HasPermission reports whether any of the user's roles grants permission.
func (p *Permissions) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	inner := psq.Select("1").
		From("user_roles ur").
		Join("role_permissions rp ON rp.role = ur.role").
		Where(sq.Eq{"ur.user_id": userID}).
		Where(sq.Eq{"rp.permission": permission})
	return exists(ctx, p.db, inner, "permission")
}

func exists(ctx context.Context, db *sql.DB, inner sq.SelectBuilder, what string) (bool, error) {
	query, args, err := inner.Prefix("SELECT EXISTS (").Suffix(")").ToSql()
	if err != nil {
		return false, fmt.Errorf("building %s check: %w", what, err)
	}
	var ok bool
	if err := db.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking %s: %w", what, err)
	}
	return ok, nil
}

// Verify interface compliance.
var (
	_ collab.DocumentStore     = (*Documents)(nil)
	_ collab.UserStore         = (*Users)(nil)
	_ collab.PermissionChecker = (*Permissions)(nil)
)
