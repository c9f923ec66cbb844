package collab

import "strings"

// MaxEditLine bounds the line an edit may address, which bounds how far an
// Insert can pad a document.
const MaxEditLine = 100_000

// EditKind names an edit operation.
type EditKind string

// Edit operation kinds.
const (
	EditInsert  EditKind = "insert"
	EditDelete  EditKind = "delete"
	EditReplace EditKind = "replace"
)

// EditOp is a positional text edit. The set of implementations is closed:
// Insert, Delete and Replace.
type EditOp interface {
	Kind() EditKind
	// Validate rejects malformed operations. Out-of-range addresses are not
	// malformed; they degrade to no-ops when applied.
	Validate() error
	// Record returns the serializable form stored in the event log.
	Record() EditRecord

	apply(lines []string) []string
}

// Insert splices Text into Line at Column.
type Insert struct {
	Line   uint
	Column uint
	Text   string
}

// Delete removes the half-open span Range.
type Delete struct {
	Range Range
}

// Replace is Delete(Range) followed by Insert at Range.Start.
type Replace struct {
	Range Range
	Text  string
}

// ApplyEdit applies op to code and returns the new text. Lines are split and
// rejoined on "\n"; columns count runes.
func ApplyEdit(code string, op EditOp) string {
	lines := strings.Split(code, "\n")
	return strings.Join(op.apply(lines), "\n")
}

// Kind implements EditOp.
func (Insert) Kind() EditKind { return EditInsert }

// Validate implements EditOp.
func (op Insert) Validate() error {
	if op.Line > MaxEditLine {
		return ErrInvalidEdit
	}
	return nil
}

// Record implements EditOp.
func (op Insert) Record() EditRecord {
	return EditRecord{Kind: EditInsert, At: &Position{Line: op.Line, Column: op.Column}, Text: op.Text}
}

func (op Insert) apply(lines []string) []string {
	return insertText(lines, op.Line, op.Column, op.Text)
}

// Kind implements EditOp.
func (Delete) Kind() EditKind { return EditDelete }

// Validate implements EditOp.
func (op Delete) Validate() error { return validateRange(op.Range) }

// Record implements EditOp.
func (op Delete) Record() EditRecord {
	rg := op.Range
	return EditRecord{Kind: EditDelete, Range: &rg}
}

func (op Delete) apply(lines []string) []string {
	return deleteRange(lines, op.Range)
}

// Kind implements EditOp.
func (Replace) Kind() EditKind { return EditReplace }

// Validate implements EditOp.
func (op Replace) Validate() error { return validateRange(op.Range) }

// Record implements EditOp.
func (op Replace) Record() EditRecord {
	rg := op.Range
	return EditRecord{Kind: EditReplace, Range: &rg, Text: op.Text}
}

func (op Replace) apply(lines []string) []string {
	lines = deleteRange(lines, op.Range)
	return insertText(lines, op.Range.Start.Line, op.Range.Start.Column, op.Text)
}

// insertText splices text into a line. A line equal to the line count
// appends; a line beyond it pads with empty lines first.
func insertText(lines []string, line, column uint, text string) []string {
	out := make([]string, len(lines), len(lines)+1)
	copy(out, lines)

	if line < uint(len(out)) {
		r := []rune(out[line])
		col := min(column, uint(len(r)))
		out[line] = string(r[:col]) + text + string(r[col:])
		return out
	}

	for uint(len(out)) < line {
		out = append(out, "")
	}
	return append(out, text)
}

// deleteRange removes [start, end). Line indices outside the document are a
// fail-soft no-op, not an error.
func deleteRange(lines []string, rg Range) []string {
	n := uint(len(lines))
	start, end := rg.Start, rg.End
	if start.Line >= n || end.Line >= n || start.Line > end.Line {
		return lines
	}

	if start.Line == end.Line {
		r := []rune(lines[start.Line])
		from := min(start.Column, uint(len(r)))
		to := min(end.Column, uint(len(r)))
		if from >= to {
			return lines
		}
		out := make([]string, len(lines))
		copy(out, lines)
		out[start.Line] = string(r[:from]) + string(r[to:])
		return out
	}

	head := []rune(lines[start.Line])
	tail := []rune(lines[end.Line])
	merged := string(head[:min(start.Column, uint(len(head)))]) +
		string(tail[min(end.Column, uint(len(tail))):])

	out := make([]string, 0, n-(end.Line-start.Line))
	out = append(out, lines[:start.Line]...)
	out = append(out, merged)
	return append(out, lines[end.Line+1:]...)
}

func validateRange(rg Range) error {
	if rg.End.Line > MaxEditLine || rg.Start.Line > rg.End.Line ||
		(rg.Start.Line == rg.End.Line && rg.Start.Column > rg.End.Column) {
		return ErrInvalidEdit
	}
	return nil
}

// EditRecord is the serializable envelope of an EditOp.
type EditRecord struct {
	Kind  EditKind  `json:"kind"`
	At    *Position `json:"at,omitempty"`
	Range *Range    `json:"range,omitempty"`
	Text  string    `json:"text,omitempty"`
}

// Op decodes the record back into an EditOp.
func (r EditRecord) Op() (EditOp, error) {
	switch r.Kind {
	case EditInsert:
		if r.At == nil {
			return nil, ErrInvalidEdit
		}
		return Insert{Line: r.At.Line, Column: r.At.Column, Text: r.Text}, nil
	case EditDelete:
		if r.Range == nil {
			return nil, ErrInvalidEdit
		}
		return Delete{Range: *r.Range}, nil
	case EditReplace:
		if r.Range == nil {
			return nil, ErrInvalidEdit
		}
		return Replace{Range: *r.Range, Text: r.Text}, nil
	default:
		return nil, ErrInvalidEdit
	}
}
