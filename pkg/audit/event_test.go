package audit

import (
	"context"
	"testing"
	"time"
)

const redactedValue = "[REDACTED]"

func TestNewEvent(t *testing.T) {
	event := NewEvent(ActionSessionCreated)

	if event.ActionType != ActionSessionCreated {
		t.Errorf("ActionType = %q, want %q", event.ActionType, ActionSessionCreated)
	}
	if event.ID == "" {
		t.Error("ID should not be empty")
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
}

func TestEvent_Builders(t *testing.T) {
	ts := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	event := NewEvent(ActionTextChange).
		WithActor("user123").
		WithEntity(EntitySnippet, "snip-1").
		WithOldValues(map[string]any{"code": "a"}).
		WithNewValues(map[string]any{"code": "ab"}).
		WithRequestID("req-123").
		WithTimestamp(ts)

	if event.ActorID != "user123" {
		t.Errorf("ActorID = %q, want %q", event.ActorID, "user123")
	}
	if event.EntityType != EntitySnippet {
		t.Errorf("EntityType = %q, want %q", event.EntityType, EntitySnippet)
	}
	if event.EntityID != "snip-1" {
		t.Errorf("EntityID = %q, want %q", event.EntityID, "snip-1")
	}
	if event.OldValues["code"] != "a" {
		t.Error("OldValues not set correctly")
	}
	if event.NewValues["code"] != "ab" {
		t.Error("NewValues not set correctly")
	}
	if event.RequestID != "req-123" {
		t.Errorf("RequestID = %q, want %q", event.RequestID, "req-123")
	}
	if !event.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", event.Timestamp, ts)
	}
}

func TestSanitizeValues(t *testing.T) {
	values := map[string]any{
		"document_id": "snip-1",
		"token":       "abc123",
		"invite":      "eyJ...",
		"limit":       10,
	}

	sanitized := SanitizeValues(values)

	if sanitized["document_id"] != "snip-1" {
		t.Error("document_id should not be sanitized")
	}
	if sanitized["token"] != redactedValue {
		t.Errorf("token = %v, want %s", sanitized["token"], redactedValue)
	}
	if sanitized["invite"] != redactedValue {
		t.Errorf("invite = %v, want %s", sanitized["invite"], redactedValue)
	}
	if sanitized["limit"] != 10 {
		t.Error("limit should not be sanitized")
	}
	if values["token"] != "abc123" {
		t.Error("input map must not be modified")
	}
}

func TestSanitizeValues_Nil(t *testing.T) {
	if SanitizeValues(nil) != nil {
		t.Error("SanitizeValues(nil) should return nil")
	}
}

func TestMemoryLogger_QueryAndCount(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLogger()

	_ = m.Log(ctx, *NewEvent(ActionSessionCreated).WithActor("alice").WithEntity(EntityCollaborationSession, "s1"))
	_ = m.Log(ctx, *NewEvent(ActionSessionJoined).WithActor("bob").WithEntity(EntityCollaborationSession, "s1"))
	_ = m.Log(ctx, *NewEvent(ActionSessionJoined).WithActor("carol").WithEntity(EntityCollaborationSession, "s2"))

	joined, err := m.Query(ctx, QueryFilter{ActionType: ActionSessionJoined})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(joined) != 2 {
		t.Fatalf("len(joined) = %d, want 2", len(joined))
	}
	if joined[0].ActorID != "carol" {
		t.Errorf("newest first: got %q, want carol", joined[0].ActorID)
	}

	n, err := m.Count(ctx, QueryFilter{EntityID: "s1"})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Count(s1) = %d, want 2", n)
	}

	page, _ := m.Query(ctx, QueryFilter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ActorID != "bob" {
		t.Errorf("page = %+v, want bob", page)
	}

	empty, _ := m.Query(ctx, QueryFilter{Offset: 10})
	if len(empty) != 0 {
		t.Errorf("len(empty) = %d, want 0", len(empty))
	}

	want := []string{ActionSessionCreated, ActionSessionJoined, ActionSessionJoined}
	got := m.Actions()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Actions()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNoopLogger(t *testing.T) {
	var l Logger = NoopLogger{}
	if err := l.Log(context.Background(), Event{}); err != nil {
		t.Errorf("Log() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
