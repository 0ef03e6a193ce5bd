// Package pagination provides opaque keyset cursors for newest-first listings.
// A cursor encodes the sort key of the last row a client has seen; the next
// page holds rows with a strictly smaller key.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultLimit is the default page size if not specified
	DefaultLimit = 50
	// MaxLimit is the maximum allowed page size
	MaxLimit = 500
)

// ErrInvalidCursor wraps every cursor decoding failure.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor represents a stable pagination position.
type Cursor struct {
	SortKey int64
	ID      string
}

// Encode serializes the cursor to an opaque string for clients.
// Format: base64("sk:{sort_key}:id:{id}")
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("sk:%d:id:%s", c.SortKey, c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an encoded cursor string. An empty string decodes to nil.
func DecodeCursor(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: bad encoding: %v", ErrInvalidCursor, err)
	}

	raw := string(data)
	if !strings.HasPrefix(raw, "sk:") {
		return nil, fmt.Errorf("%w: missing sk prefix", ErrInvalidCursor)
	}

	parts := strings.SplitN(strings.TrimPrefix(raw, "sk:"), ":id:", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: missing id segment", ErrInvalidCursor)
	}

	key, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad key: %v", ErrInvalidCursor, err)
	}
	if key <= 0 {
		return nil, fmt.Errorf("%w: key %d", ErrInvalidCursor, key)
	}

	return &Cursor{SortKey: key, ID: parts[1]}, nil
}

// EncodeCursor is a convenience function to create and encode a cursor.
func EncodeCursor(sortKey int64, id string) string {
	return Cursor{SortKey: sortKey, ID: id}.Encode()
}

// ClampLimit ensures limit is within valid bounds.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Before returns the exclusive upper sort key for a page, or 0 when the
// listing starts from the newest row.
func (c *Cursor) Before() int64 {
	if c == nil {
		return 0
	}
	return c.SortKey
}
