package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/codeengage/snippet-collab/pkg/audit"
)

const inviteIssuer = "snippet-collab"

// inviteClaims is the payload of an invite link. It names the session by
// ID, never by its join token.
type inviteClaims struct {
	SessionID  string     `json:"sid"`
	Permission Permission `json:"perm"`
	jwt.RegisteredClaims
}

// Invite is a signed invitation to a session.
type Invite struct {
	Token      string     `json:"invite"`
	SessionID  string     `json:"session_id"`
	Permission Permission `json:"permission"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// CreateInvite signs an invite granting perm. Only participants may invite.
func (m *Manager) CreateInvite(ctx context.Context, token, inviterID string, perm Permission) (*Invite, error) {
	if !perm.Valid() {
		return nil, ErrInvalidPermission
	}
	if len(m.cfg.InviteKey) == 0 {
		return nil, internalError("creating invite", errors.New("invite signing key not configured"))
	}

	sess, err := m.byToken(token)(ctx)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if err := m.requireParticipant(sess, inviterID, now); err != nil {
		return nil, err
	}

	expires := now.Add(m.cfg.InviteTTL)
	claims := inviteClaims{
		SessionID:  sess.ID,
		Permission: perm,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    inviteIssuer,
			Subject:   inviterID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.InviteKey)
	if err != nil {
		return nil, internalError("signing invite", err)
	}

	m.record(ctx, audit.NewEvent(audit.ActionInviteCreated).
		WithActor(inviterID).
		WithEntity(audit.EntityCollaborationSession, sess.ID).
		WithNewValues(map[string]any{"permission": string(perm), "expires_at": expires.UTC().Format(time.RFC3339)}))

	return &Invite{
		Token:      signed,
		SessionID:  sess.ID,
		Permission: perm,
		ExpiresAt:  expires,
	}, nil
}

// JoinWithInvite verifies an invite and joins its session with the invited
// permission. The usual gate and capacity rules still apply.
func (m *Manager) JoinWithInvite(ctx context.Context, invite, userID string) (*Session, error) {
	claims, err := m.parseInvite(invite)
	if err != nil {
		return nil, err
	}
	return m.join(ctx, m.byID(claims.SessionID), userID, claims.Permission)
}

func (m *Manager) parseInvite(invite string) (*inviteClaims, error) {
	if len(m.cfg.InviteKey) == 0 {
		return nil, ErrInvalidInvite
	}

	claims := &inviteClaims{}
	_, err := jwt.ParseWithClaims(invite, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.cfg.InviteKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(inviteIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock.Now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrInviteExpired
	case err != nil:
		return nil, &Error{Kind: KindValidation, Msg: ErrInvalidInvite.Msg, Err: err}
	}

	if claims.SessionID == "" || !claims.Permission.Valid() {
		return nil, ErrInvalidInvite
	}
	return claims, nil
}
