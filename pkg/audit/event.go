package audit

import (
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the collaboration engine.
const (
	ActionSessionCreated = "collaboration_session_created"
	ActionSessionJoined  = "collaboration_session_joined"
	ActionTextChange     = "collaboration_text_change"
	ActionSessionLeft    = "collaboration_session_left"
	ActionSessionExpired = "collaboration_session_expired"
	ActionInviteCreated  = "collaboration_invite_created"
)

// Entity types.
const (
	EntityCollaborationSession = "collaboration_session"
	EntitySnippet              = "snippet"
)

// NewEvent creates a new audit event for an action.
func NewEvent(actionType string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		ActionType: actionType,
	}
}

// WithActor sets the acting user.
func (e *Event) WithActor(actorID string) *Event {
	e.ActorID = actorID
	return e
}

// WithEntity sets the entity acted upon.
func (e *Event) WithEntity(entityType, entityID string) *Event {
	e.EntityType = entityType
	e.EntityID = entityID
	return e
}

// WithOldValues records state before the action.
func (e *Event) WithOldValues(values map[string]any) *Event {
	e.OldValues = values
	return e
}

// WithNewValues records state after the action.
func (e *Event) WithNewValues(values map[string]any) *Event {
	e.NewValues = values
	return e
}

// WithRequestID adds a request ID to the event.
func (e *Event) WithRequestID(requestID string) *Event {
	e.RequestID = requestID
	return e
}

// WithTimestamp overrides the event time.
func (e *Event) WithTimestamp(ts time.Time) *Event {
	e.Timestamp = ts
	return e
}

// SanitizeValues removes secrets from an old/new values map.
func SanitizeValues(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}

	sensitiveKeys := map[string]bool{
		"password":      true,
		"secret":        true,
		"token":         true,
		"invite":        true,
		"api_key":       true,
		"authorization": true,
	}

	sanitized := make(map[string]any, len(values))
	for k, v := range values {
		if sensitiveKeys[k] {
			sanitized[k] = "[REDACTED]"
		} else {
			sanitized[k] = v
		}
	}
	return sanitized
}
