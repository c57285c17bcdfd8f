package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MetadataState classifies the metadata found beside a value.
type MetadataState int

const (
	MetadataAbsent MetadataState = iota
	MetadataPresent
	MetadataMalformed
)

func (s MetadataState) String() string {
	switch s {
	case MetadataAbsent:
		return "absent"
	case MetadataPresent:
		return "present"
	case MetadataMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("MetadataState(%d)", int(s))
	}
}

// PutOptions controls write semantics. A zero TTL means no expiration.
type PutOptions struct {
	TTL time.Duration
}

// SerializationError reports a stored value that could not be decoded into
// the requested type. It matches ErrSerialization with errors.Is.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("deserializing value for %q: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() []error {
	return []error{ErrSerialization, e.Err}
}

// KV exposes the gateway's key-value capability on top of a Backend:
// raw bytes with JSON metadata, JSON-serialized values with expiration,
// enumeration and deletion.
type KV struct {
	backend Backend
	now     func() time.Time
}

// Option configures a KV.
type Option func(*KV)

// WithClock overrides the clock used to turn TTLs into expirations.
func WithClock(fn func() time.Time) Option {
	return func(kv *KV) {
		if fn != nil {
			kv.now = fn
		}
	}
}

// New wraps b. The KV takes ownership of b; Close closes it.
func New(b Backend, opts ...Option) *KV {
	kv := &KV{backend: b, now: time.Now}
	for _, opt := range opts {
		opt(kv)
	}
	return kv
}

// Enumerate lists keys in ascending order. The limit is normalized to
// (0, MaxListLimit], with non-positive values meaning DefaultListLimit.
func (kv *KV) Enumerate(ctx context.Context, opts ListOptions) (*ListResult, error) {
	switch {
	case opts.Limit <= 0:
		opts.Limit = DefaultListLimit
	case opts.Limit > MaxListLimit:
		opts.Limit = MaxListLimit
	}
	res, err := kv.backend.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	return res, nil
}

// PutBytes stores value with metadata JSON-encoded beside it. A nil
// metadata stores the value without any metadata.
func (kv *KV) PutBytes(ctx context.Context, key string, value []byte, metadata any, opts PutOptions) error {
	rec, err := kv.record(key, opts)
	if err != nil {
		return err
	}
	if metadata != nil {
		md, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("%w: encoding metadata for %q: %v", ErrSerialization, key, err)
		}
		rec.Metadata = md
	}
	if value == nil {
		value = []byte{}
	}
	rec.Value = value
	return kv.backend.Put(ctx, key, rec)
}

// PutSerialized stores v JSON-encoded, without metadata.
func (kv *KV) PutSerialized(ctx context.Context, key string, v any, opts PutOptions) error {
	rec, err := kv.record(key, opts)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding value for %q: %v", ErrSerialization, key, err)
	}
	rec.Value = data
	return kv.backend.Put(ctx, key, rec)
}

// GetBytesWithMetadata reads value and metadata in a single backend read.
// When metadata is present it is decoded into meta; a decode failure is
// reported as MetadataMalformed, not as an error. An absent key yields
// ErrNotFound.
func (kv *KV) GetBytesWithMetadata(ctx context.Context, key string, meta any) ([]byte, MetadataState, error) {
	if err := CheckKey(key); err != nil {
		return nil, MetadataAbsent, err
	}
	rec, err := kv.backend.Get(ctx, key)
	if err != nil {
		return nil, MetadataAbsent, err
	}
	if rec.Metadata == nil {
		return rec.Value, MetadataAbsent, nil
	}
	if meta != nil {
		if err := json.Unmarshal(rec.Metadata, meta); err != nil {
			return rec.Value, MetadataMalformed, nil
		}
	}
	return rec.Value, MetadataPresent, nil
}

// GetDeserialized decodes the value stored under key into v. It returns
// ErrNotFound for an absent key and a *SerializationError when the stored
// bytes do not decode into v.
func (kv *KV) GetDeserialized(ctx context.Context, key string, v any) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	rec, err := kv.backend.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(rec.Value, v); err != nil {
		return &SerializationError{Key: key, Err: err}
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (kv *KV) Delete(ctx context.Context, key string) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	if err := kv.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Close closes the underlying backend.
func (kv *KV) Close() error {
	return kv.backend.Close()
}

func (kv *KV) record(key string, opts PutOptions) (Record, error) {
	if err := CheckKey(key); err != nil {
		return Record{}, err
	}
	if opts.TTL < 0 {
		return Record{}, ErrInvalidTTL
	}
	var rec Record
	if opts.TTL > 0 {
		rec.Expiration = kv.now().Add(opts.TTL)
	}
	return rec, nil
}
