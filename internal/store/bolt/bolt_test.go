package bolt

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kvgate/internal/store"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func tempStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func put(t *testing.T, s *Store, key string, rec store.Record) {
	t.Helper()
	if err := s.Put(context.Background(), key, rec); err != nil {
		t.Fatal(err)
	}
}

func TestOpenClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file should exist: %v", err)
	}
}

func TestOpenInvalidPath(t *testing.T) {
	if _, err := Open("/nonexistent/dir/test.db"); err == nil {
		t.Fatal("opening db in nonexistent dir should fail")
	}
}

func TestPutAndGet(t *testing.T) {
	s := tempStore(t)
	put(t, s, "key1", store.Record{Value: []byte("val1"), Metadata: []byte(`{"content_type":"text/plain"}`)})

	rec, err := s.Get(context.Background(), "key1")
	if err != nil {
		t.Fatal(err)
	}
	if string(rec.Value) != "val1" {
		t.Fatalf("expected val1, got %q", rec.Value)
	}
	if string(rec.Metadata) != `{"content_type":"text/plain"}` {
		t.Fatalf("metadata: got %q", rec.Metadata)
	}
	if !rec.Expiration.IsZero() {
		t.Fatalf("expiration should be zero, got %v", rec.Expiration)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := tempStore(t)
	put(t, s, "other", store.Record{Value: []byte("v")})

	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMetadataPresenceRoundTrip(t *testing.T) {
	s := tempStore(t)
	put(t, s, "none", store.Record{Value: []byte("v")})
	put(t, s, "empty", store.Record{Value: []byte{}, Metadata: []byte{}})

	rec, err := s.Get(context.Background(), "none")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Metadata != nil {
		t.Fatalf("record written without metadata should read back nil, got %q", rec.Metadata)
	}

	rec, err = s.Get(context.Background(), "empty")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Metadata == nil {
		t.Fatal("empty metadata should stay distinguishable from absent")
	}
	if rec.Value == nil || len(rec.Value) != 0 {
		t.Fatalf("empty value should read back empty, got %v", rec.Value)
	}
}

func TestPutOverwrite(t *testing.T) {
	s := tempStore(t)
	put(t, s, "k", store.Record{Value: []byte("v1"), Metadata: []byte(`{"a":1}`), Expiration: time.Now().Add(time.Hour)})
	put(t, s, "k", store.Record{Value: []byte("v2")})

	rec, err := s.Get(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(rec.Value) != "v2" {
		t.Fatalf("expected v2 after overwrite, got %q", rec.Value)
	}
	if rec.Metadata != nil || !rec.Expiration.IsZero() {
		t.Fatal("overwrite should replace metadata and expiration wholesale")
	}
}

func TestDelete(t *testing.T) {
	s := tempStore(t)
	put(t, s, "k", store.Record{Value: []byte("v")})
	if err := s.Delete(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(context.Background(), "k"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteMissingKey(t *testing.T) {
	s := tempStore(t)
	if err := s.Delete(context.Background(), "never-written"); err != nil {
		t.Fatal(err)
	}
}

func TestExpiration(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := tempStore(t, WithClock(clock.now))
	put(t, s, "ttl", store.Record{Value: []byte("v"), Expiration: clock.t.Add(time.Minute)})

	rec, err := s.Get(context.Background(), "ttl")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Expiration.Equal(clock.t.Add(time.Minute)) {
		t.Fatalf("expiration: got %v", rec.Expiration)
	}

	clock.advance(time.Minute)
	if _, err := s.Get(context.Background(), "ttl"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expired record should read as missing, got %v", err)
	}
}

func TestSweep(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := tempStore(t, WithClock(clock.now))
	put(t, s, "short", store.Record{Value: []byte("1"), Expiration: clock.t.Add(time.Second)})
	put(t, s, "long", store.Record{Value: []byte("2"), Expiration: clock.t.Add(time.Hour)})
	put(t, s, "forever", store.Record{Value: []byte("3")})

	clock.advance(time.Minute)
	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept record, got %d", n)
	}

	res, err := s.List(context.Background(), store.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Keys) != 2 || res.Keys[0].Name != "forever" || res.Keys[1].Name != "long" {
		t.Fatalf("unexpected keys after sweep: %+v", res.Keys)
	}
}

func TestSweepLoopStops(t *testing.T) {
	s := tempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.SweepLoop(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SweepLoop did not stop after cancel")
	}
}

func TestListPrefixAndOrder(t *testing.T) {
	s := tempStore(t)
	for _, k := range []string{"b", "a2", "c", "a1", "ab"} {
		put(t, s, k, store.Record{Value: []byte("v-" + k)})
	}

	res, err := s.List(context.Background(), store.ListOptions{Prefix: "a"})
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, k := range res.Keys {
		names = append(names, k.Name)
	}
	if strings.Join(names, ",") != "a1,a2,ab" {
		t.Fatalf("prefix a: got %v", names)
	}
	if !res.ListComplete || res.Cursor != "" {
		t.Fatalf("short listing should be complete: %+v", res)
	}
}

func TestListPagination(t *testing.T) {
	s := tempStore(t)
	for _, k := range []string{"k1", "k2", "k3", "k4", "k5"} {
		put(t, s, k, store.Record{Value: []byte("v")})
	}

	var all []string
	cursor := ""
	for page := 0; page < 10; page++ {
		res, err := s.List(context.Background(), store.ListOptions{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Keys) > 2 {
			t.Fatalf("page %d has %d keys", page, len(res.Keys))
		}
		for _, k := range res.Keys {
			all = append(all, k.Name)
		}
		if res.ListComplete {
			break
		}
		cursor = res.Cursor
	}
	if strings.Join(all, ",") != "k1,k2,k3,k4,k5" {
		t.Fatalf("paged listing: got %v", all)
	}
}

func TestListExactPageIsComplete(t *testing.T) {
	s := tempStore(t)
	put(t, s, "x", store.Record{Value: []byte("1")})
	put(t, s, "y", store.Record{Value: []byte("2")})

	res, err := s.List(context.Background(), store.ListOptions{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Keys) != 2 || !res.ListComplete {
		t.Fatalf("exactly-full page should be complete: %+v", res)
	}
}

func TestListSkipsExpiredAndCarriesMetadata(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := tempStore(t, WithClock(clock.now))
	exp := clock.t.Add(time.Hour)
	put(t, s, "gone", store.Record{Value: []byte("v"), Expiration: clock.t.Add(-time.Second)})
	put(t, s, "kept", store.Record{Value: []byte("v"), Metadata: []byte(`{"content_type":"a/b"}`), Expiration: exp})

	res, err := s.List(context.Background(), store.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Keys) != 1 {
		t.Fatalf("expected 1 key, got %+v", res.Keys)
	}
	k := res.Keys[0]
	if k.Name != "kept" || !k.Expiration.Equal(exp) || string(k.Metadata) != `{"content_type":"a/b"}` {
		t.Fatalf("unexpected key info: %+v", k)
	}
}

func TestListBadCursor(t *testing.T) {
	s := tempStore(t)
	if _, err := s.List(context.Background(), store.ListOptions{Cursor: "!!!"}); !errors.Is(err, store.ErrBadCursor) {
		t.Fatalf("expected ErrBadCursor, got %v", err)
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	big := bytes.Repeat([]byte("compressible "), 100)

	s, err := Open(path, WithCompression(true))
	if err != nil {
		t.Fatal(err)
	}
	put(t, s, "big", store.Record{Value: big, Metadata: []byte(`{}`)})
	put(t, s, "small", store.Record{Value: []byte("tiny")})
	_ = s.Close()

	// Reopen without compression: compressed records must stay readable.
	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s2.Close() }()

	rec, err := s2.Get(context.Background(), "big")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rec.Value, big) {
		t.Fatal("compressed value did not round-trip")
	}
	rec, err = s2.Get(context.Background(), "small")
	if err != nil {
		t.Fatal(err)
	}
	if string(rec.Value) != "tiny" {
		t.Fatalf("small value: got %q", rec.Value)
	}
}

func TestCancelledContext(t *testing.T) {
	s := tempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Put(ctx, "k", store.Record{Value: []byte("v")}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
