package audit

import (
	"context"
	"slices"
	"sync"
)

// MemoryLogger keeps events in process. It backs tests and the
// single-node configuration with audit persistence disabled.
type MemoryLogger struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryLogger creates an empty in-memory logger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log implements Logger.
func (m *MemoryLogger) Log(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of every recorded event in insertion order.
func (m *MemoryLogger) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}

// Actions returns the action types recorded, in order.
func (m *MemoryLogger) Actions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.ActionType
	}
	return out
}

// Query implements Querier, newest first.
func (m *MemoryLogger) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for i := len(m.events) - 1; i >= 0; i-- {
		if filter.matches(m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []Event{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Count implements Querier.
func (m *MemoryLogger) Count(_ context.Context, filter QueryFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.events {
		if filter.matches(e) {
			n++
		}
	}
	return n, nil
}

// Close implements Logger.
func (*MemoryLogger) Close() error { return nil }

func (f QueryFilter) matches(e Event) bool {
	switch {
	case f.ID != "" && e.ID != f.ID:
		return false
	case f.ActorID != "" && e.ActorID != f.ActorID:
		return false
	case f.ActionType != "" && e.ActionType != f.ActionType:
		return false
	case f.EntityType != "" && e.EntityType != f.EntityType:
		return false
	case f.EntityID != "" && e.EntityID != f.EntityID:
		return false
	case f.StartTime != nil && e.Timestamp.Before(*f.StartTime):
		return false
	case f.EndTime != nil && e.Timestamp.After(*f.EndTime):
		return false
	}
	return true
}

var (
	_ Logger  = (*MemoryLogger)(nil)
	_ Querier = (*MemoryLogger)(nil)
)
