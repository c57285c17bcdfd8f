package store

import (
	"encoding/base64"
	"fmt"
)

// EncodeCursor turns the last key of a page into an opaque cursor.
func EncodeCursor(lastKey string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(lastKey))
}

// DecodeCursor returns the key after which the next page starts.
// An empty cursor decodes to the empty key.
func DecodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	key, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || len(key) == 0 {
		return "", fmt.Errorf("%w: %q", ErrBadCursor, cursor)
	}
	return string(key), nil
}
