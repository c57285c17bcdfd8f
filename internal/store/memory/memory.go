// Package memory is an in-process store.Backend with TTL semantics. It backs
// the -memory mode and serves as the substitute store in tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"kvgate/internal/store"
)

// Store implements store.Backend in memory.
type Store struct {
	mu      sync.RWMutex
	records map[string]store.Record
	now     func() time.Time
}

// Option configures the store.
type Option func(*Store)

// WithClock overrides the clock used for expiration checks.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]store.Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, key string) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	if rec.Expired(s.now()) {
		delete(s.records, key)
		return nil, store.ErrNotFound
	}
	out := copyRecord(rec)
	return &out, nil
}

func (s *Store) Put(ctx context.Context, key string, rec store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.records[key] = copyRecord(rec)
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) List(ctx context.Context, opts store.ListOptions) (*store.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	after, err := store.DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	names := make([]string, 0, len(s.records))
	for k, rec := range s.records {
		if !strings.HasPrefix(k, opts.Prefix) || rec.Expired(now) {
			continue
		}
		if after != "" && k <= after {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)

	res := &store.ListResult{ListComplete: true}
	if len(names) > limit {
		names = names[:limit]
		res.ListComplete = false
		res.Cursor = store.EncodeCursor(names[len(names)-1])
	}
	res.Keys = make([]store.KeyInfo, 0, len(names))
	for _, k := range names {
		rec := s.records[k]
		res.Keys = append(res.Keys, store.KeyInfo{
			Name:       k,
			Expiration: rec.Expiration,
			Metadata:   cloneBytes(rec.Metadata),
		})
	}
	return res, nil
}

// Len returns the number of stored records, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Close() error {
	return nil
}

func copyRecord(rec store.Record) store.Record {
	return store.Record{
		Value:      cloneBytes(rec.Value),
		Metadata:   cloneBytes(rec.Metadata),
		Expiration: rec.Expiration,
	}
}

// cloneBytes preserves the nil/empty distinction; nil metadata means absent.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
