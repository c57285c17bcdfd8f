package store

import (
	"context"
	"errors"
	"time"
)

// Limits mirrored from the hosted key-value service this gateway fronts.
const (
	MaxKeyLen        = 512
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrEmptyKey      = errors.New("key is empty")
	ErrKeyTooLong    = errors.New("key exceeds max length")
	ErrInvalidTTL    = errors.New("ttl must not be negative")
	ErrBadCursor     = errors.New("malformed list cursor")
	ErrSerialization = errors.New("serialization failed")
)

// Record is a stored value together with its optional metadata and expiration.
// A nil Metadata means the entry carries no metadata at all. A zero
// Expiration means the entry does not expire.
type Record struct {
	Value      []byte
	Metadata   []byte
	Expiration time.Time
}

// Expired reports whether the record's expiration is at or before now.
func (r *Record) Expired(now time.Time) bool {
	return !r.Expiration.IsZero() && !now.Before(r.Expiration)
}

// ListOptions bounds an enumeration. Limit <= 0 means DefaultListLimit.
type ListOptions struct {
	Limit  int
	Prefix string
	Cursor string
}

// KeyInfo describes one listed key.
type KeyInfo struct {
	Name       string
	Expiration time.Time
	Metadata   []byte
}

// ListResult is one page of an enumeration. Cursor is set only when
// ListComplete is false.
type ListResult struct {
	Keys         []KeyInfo
	ListComplete bool
	Cursor       string
}

// Backend is the raw record store. Implementations must make Put atomic with
// respect to value, metadata and expiration, and must treat expired records
// as absent.
type Backend interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, key string, rec Record) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, opts ListOptions) (*ListResult, error)
	Close() error
}

// CheckKey validates a key before it reaches a backend.
func CheckKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > MaxKeyLen {
		return ErrKeyTooLong
	}
	return nil
}
