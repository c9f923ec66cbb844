package collab

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error. Transports map kinds to their own codes.
type Kind int

const (
	// KindInternal is a persistence or collaborator failure.
	KindInternal Kind = iota
	// KindNotFound means a session, document, or user reference does not resolve.
	KindNotFound
	// KindUnauthorized means the caller lacks standing for the action.
	KindUnauthorized
	// KindValidation means a well-formed request violates a business rule.
	KindValidation
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// Error is the error type returned by Manager operations.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind and message, so wrapped
// copies of the sentinels below still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg
}

// Stable, client-distinguishable errors.
var (
	ErrSessionNotFound  = &Error{Kind: KindNotFound, Msg: "session not found"}
	ErrDocumentNotFound = &Error{Kind: KindNotFound, Msg: "document not found"}
	ErrUserNotFound     = &Error{Kind: KindNotFound, Msg: "user not found"}

	ErrNotAllowed        = &Error{Kind: KindUnauthorized, Msg: "not allowed to collaborate on this document"}
	ErrNotParticipant    = &Error{Kind: KindUnauthorized, Msg: "not a participant of this session"}
	ErrCannotEnd         = &Error{Kind: KindUnauthorized, Msg: "only the owner or a participant can end the session"}
	ErrReadOnly          = &Error{Kind: KindUnauthorized, Msg: "participant has view-only access"}
	ErrLockedByOther     = &Error{Kind: KindUnauthorized, Msg: "session locked by another participant"}
	ErrSessionExpired    = &Error{Kind: KindValidation, Msg: "session expired"}
	ErrSessionFull       = &Error{Kind: KindValidation, Msg: "session full"}
	ErrNoopEdit          = &Error{Kind: KindValidation, Msg: "edit has no effect"}
	ErrInvalidEdit       = &Error{Kind: KindValidation, Msg: "invalid edit"}
	ErrInvalidUpdate     = &Error{Kind: KindValidation, Msg: "invalid update"}
	ErrSessionLocked     = &Error{Kind: KindValidation, Msg: "session locked"}
	ErrInvalidInvite     = &Error{Kind: KindValidation, Msg: "invalid invite"}
	ErrInviteExpired     = &Error{Kind: KindValidation, Msg: "invite expired"}
	ErrInvalidPermission = &Error{Kind: KindValidation, Msg: "invalid permission"}
	ErrWriteBusy         = &Error{Kind: KindValidation, Msg: "another edit is in progress"}
)

// KindOf reports the kind of err. Errors that are not *Error are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// internalError wraps a store or collaborator failure.
func internalError(op string, err error) error {
	return &Error{Kind: KindInternal, Msg: op, Err: err}
}

// validationf builds a Validation error with a formatted message.
func validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}
