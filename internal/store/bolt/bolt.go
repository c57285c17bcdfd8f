package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"kvgate/internal/logging"
	"kvgate/internal/store"
)

var logger = logging.For("store")

var kvBucket = []byte("kv")

// Store implements store.Backend using bbolt (embedded B+ tree).
// Keys live in a single bucket so prefix scans follow byte order.
type Store struct {
	db      *bolt.DB
	now     func() time.Time
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

type options struct {
	compress bool
	now      func() time.Time
}

// Option configures Open.
type Option func(*options)

// WithCompression stores values of at least 256 bytes zstd-compressed.
// Records written either way stay readable regardless of this setting.
func WithCompression(on bool) Option {
	return func(o *options) {
		o.compress = on
	}
}

// WithClock overrides the clock used for expiration checks.
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.now = fn
		}
	}
}

// Open creates or opens a bbolt database at the given path.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(kvBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	s := &Store{db: db, now: o.now}
	s.decoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	if o.compress {
		s.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			s.decoder.Close()
			_ = db.Close()
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
	}
	return s, nil
}

func (s *Store) Get(ctx context.Context, key string) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *store.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(kvBucket).Get([]byte(key))
		if v == nil {
			return store.ErrNotFound
		}
		r, err := s.decodeRecord(v, true)
		if err != nil {
			return fmt.Errorf("reading %q: %w", key, err)
		}
		if r.Expired(s.now()) {
			return store.ErrNotFound
		}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) Put(ctx context.Context, key string, rec store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := s.encodeRecord(rec)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), data)
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Delete([]byte(key))
	})
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
	prefix := []byte(opts.Prefix)

	res := &store.ListResult{ListComplete: true}
	err = s.db.View(func(tx *bolt.Tx) error {
		now := s.now()
		c := tx.Bucket(kvBucket).Cursor()

		var k, v []byte
		if after != "" && after >= opts.Prefix {
			k, v = c.Seek([]byte(after))
			if k != nil && string(k) == after {
				k, v = c.Next()
			}
		} else {
			k, v = c.Seek(prefix)
		}

		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			rec, err := s.decodeRecord(v, false)
			if err != nil {
				logger.Warn("skipping corrupt record", "key", string(k), "err", err)
				continue
			}
			if rec.Expired(now) {
				continue
			}
			if len(res.Keys) == limit {
				res.ListComplete = false
				res.Cursor = store.EncodeCursor(res.Keys[limit-1].Name)
				return nil
			}
			res.Keys = append(res.Keys, store.KeyInfo{
				Name:       string(k),
				Expiration: rec.Expiration,
				Metadata:   rec.Metadata,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Sweep deletes every expired record and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(kvBucket)
		now := s.now()

		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			rec, err := s.decodeRecord(v, false)
			if err != nil {
				return nil
			}
			if rec.Expired(now) {
				expired = append(expired, append([]byte{}, k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}

// SweepLoop runs Sweep every interval until ctx is cancelled.
func (s *Store) SweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("sweeping expired records", "err", err)
				}
				continue
			}
			if n > 0 {
				logger.Debug("swept expired records", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) Close() error {
	if s.encoder != nil {
		_ = s.encoder.Close()
	}
	s.decoder.Close()
	return s.db.Close()
}
