// Package records assigns record IDs and metadata to document chunks.
package records

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Metadata keys written on every record.
const (
	KeyUserID     = "userId"
	KeyDocumentID = "documentId"
	KeyDocKey     = "docKey"
	KeyChunkIndex = "chunkIndex"
	KeyTimestamp  = "timestamp"
	KeyQuestion   = "question"
	KeyTitle      = "title"
	KeyProvenance = "source"
)

var (
	// ErrMissingUserID indicates a document or request without a user.
	ErrMissingUserID = errors.New("user ID is required")

	// ErrInvalidUserID indicates a user ID that cannot be embedded in a record ID.
	ErrInvalidUserID = errors.New("invalid user ID format")

	// ErrMalformedID indicates a string that is not a record ID.
	ErrMalformedID = errors.New("malformed record ID")

	// ErrDuplicateRecordID indicates two records in one batch share an ID.
	ErrDuplicateRecordID = errors.New("duplicate record ID")
)

// userIDPattern excludes '#', the record ID delimiter.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,128}$`)

// ValidateUserID checks that userID is present and safe to embed in record IDs.
func ValidateUserID(userID string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	if !userIDPattern.MatchString(userID) {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return nil
}

// ID identifies one chunk of one document.
type ID struct {
	UserID     string
	DocKey     string
	ChunkIndex int
}

// String formats the ID as user_<userId>#doc_<docKey>#chunk_<index>.
func (id ID) String() string {
	return FormatID(id.UserID, id.DocKey, id.ChunkIndex)
}

// FormatID builds a record ID.
func FormatID(userID, docKey string, chunkIndex int) string {
	return UserPrefix(userID) + "doc_" + docKey + "#chunk_" + strconv.Itoa(chunkIndex)
}

// UserPrefix is the prefix shared by every record ID of userID.
func UserPrefix(userID string) string {
	return "user_" + userID + "#"
}

// ParseID splits a record ID into its parts.
func ParseID(s string) (ID, error) {
	parts := strings.Split(s, "#")
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}

	user, ok := strings.CutPrefix(parts[0], "user_")
	if !ok || user == "" {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	doc, ok := strings.CutPrefix(parts[1], "doc_")
	if !ok || doc == "" {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	chunk, ok := strings.CutPrefix(parts[2], "chunk_")
	if !ok {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	idx, err := strconv.Atoi(chunk)
	if err != nil || idx < 0 {
		return ID{}, fmt.Errorf("%w: bad chunk index in %q", ErrMalformedID, s)
	}

	return ID{UserID: user, DocKey: doc, ChunkIndex: idx}, nil
}

// BelongsTo reports whether id is a record ID owned by userID.
func BelongsTo(id, userID string) bool {
	parsed, err := ParseID(id)
	return err == nil && parsed.UserID == userID
}
