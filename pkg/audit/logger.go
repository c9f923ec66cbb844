// Package audit records who did what to which collaboration entity.
package audit

import (
	"context"
	"time"
)

// Logger defines the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Close releases resources.
	Close() error
}

// Querier retrieves recorded audit events.
type Querier interface {
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
	Count(ctx context.Context, filter QueryFilter) (int, error)
}

// Event represents an auditable action. OldValues and NewValues hold the
// relevant state before and after the action.
type Event struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	ActorID    string         `json:"actor_id"`
	ActionType string         `json:"action_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	OldValues  map[string]any `json:"old_values,omitempty"`
	NewValues  map[string]any `json:"new_values,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
}

// QueryFilter defines criteria for querying audit events.
type QueryFilter struct {
	ID         string
	StartTime  *time.Time
	EndTime    *time.Time
	ActorID    string
	ActionType string
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}

// Config configures audit logging.
type Config struct {
	Enabled       bool
	RetentionDays int
}

// NoopLogger discards every event.
type NoopLogger struct{}

// Log implements Logger.
func (NoopLogger) Log(context.Context, Event) error { return nil }

// Close implements Logger.
func (NoopLogger) Close() error { return nil }

var _ Logger = NoopLogger{}
