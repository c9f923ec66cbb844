// Package directory provides the document, user and permission lookups the
// collaboration engine consumes, backed by memory or PostgreSQL.
package directory

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Version is one saved revision of a snippet's code.
type Version struct {
	Number        int       `json:"version_number"`
	Code          string    `json:"code"`
	Checksum      string    `json:"checksum"`
	EditorID      string    `json:"editor_id"`
	ChangeSummary string    `json:"change_summary"`
	CreatedAt     time.Time `json:"created_at"`
}

// Checksum returns the hex SHA-256 of code.
func Checksum(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// ErrSnippetNotFound is returned when writing a version of an unknown snippet.
var ErrSnippetNotFound = errors.New("snippet not found")
