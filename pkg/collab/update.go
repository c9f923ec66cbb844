package collab

import (
	"encoding/json"
	"fmt"
)

// UpdateKind is the wire name of an update variant.
type UpdateKind string

// Update kinds accepted by PushUpdate.
const (
	UpdateCursor     UpdateKind = "cursor"
	UpdateSelection  UpdateKind = "selection"
	UpdateTextChange UpdateKind = "text_change"
	UpdateMessage    UpdateKind = "message"
)

// Update is a client change pushed into a session. Implementations are
// CursorUpdate, SelectionUpdate, TextChange, Message and UnknownUpdate.
type Update interface {
	UpdateKind() UpdateKind
	isUpdate()
}

// CursorUpdate overwrites the sender's caret. Selection is cleared unless set.
type CursorUpdate struct {
	Line      uint   `json:"line"`
	Column    uint   `json:"column"`
	Selection *Range `json:"selection,omitempty"`
}

// SelectionUpdate merges a selection into the sender's cursor state.
type SelectionUpdate struct {
	Selection Range `json:"selection"`
}

// TextChange applies an edit to the shared document.
type TextChange struct {
	Op EditOp
}

// Message posts a chat message, optionally anchored to a line.
type Message struct {
	Text    string `json:"text"`
	LineRef *uint  `json:"line_ref,omitempty"`
}

// UnknownUpdate carries a kind this version does not understand. It is
// accepted and ignored so newer clients keep working.
type UnknownUpdate struct {
	Kind string
}

func (CursorUpdate) UpdateKind() UpdateKind    { return UpdateCursor }
func (SelectionUpdate) UpdateKind() UpdateKind { return UpdateSelection }
func (TextChange) UpdateKind() UpdateKind      { return UpdateTextChange }
func (Message) UpdateKind() UpdateKind         { return UpdateMessage }
func (u UnknownUpdate) UpdateKind() UpdateKind { return UpdateKind(u.Kind) }

func (CursorUpdate) isUpdate()    {}
func (SelectionUpdate) isUpdate() {}
func (TextChange) isUpdate()      {}
func (Message) isUpdate()         {}
func (UnknownUpdate) isUpdate()   {}

// DecodeUpdate builds an Update from its wire kind and JSON payload.
func DecodeUpdate(kind string, data json.RawMessage) (Update, error) {
	switch UpdateKind(kind) {
	case UpdateCursor:
		var u CursorUpdate
		if err := decodePayload(data, &u); err != nil {
			return nil, err
		}
		return u, nil
	case UpdateSelection:
		var u SelectionUpdate
		if err := decodePayload(data, &u); err != nil {
			return nil, err
		}
		return u, nil
	case UpdateTextChange:
		var rec EditRecord
		if err := decodePayload(data, &rec); err != nil {
			return nil, err
		}
		op, err := rec.Op()
		if err != nil {
			return nil, err
		}
		return TextChange{Op: op}, nil
	case UpdateMessage:
		var u Message
		if err := decodePayload(data, &u); err != nil {
			return nil, err
		}
		return u, nil
	default:
		return UnknownUpdate{Kind: kind}, nil
	}
}

func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return ErrInvalidUpdate
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &Error{Kind: KindValidation, Msg: ErrInvalidUpdate.Msg, Err: fmt.Errorf("decoding payload: %w", err)}
	}
	return nil
}
