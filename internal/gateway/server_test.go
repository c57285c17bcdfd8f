package gateway_test

import (
	"context"
	"io"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"kvgate/internal/config"
	"kvgate/internal/gateway"
	"kvgate/internal/logging"
	"kvgate/internal/store"
	boltstore "kvgate/internal/store/bolt"
)

func startServer(t *testing.T, st gateway.Store) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	cfg := config.Defaults().Server
	cfg.Listen = "127.0.0.1:0"
	cfg.RateLimit = 1000

	srv := gateway.NewServer(cfg, st)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(cancel)
	return "http://" + srv.Addr(), cancel, done
}

func send(t *testing.T, method, url, contentType, body string) (int, http.Header, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, resp.Header, string(data)
}

func TestServerOverBolt(t *testing.T) {
	capture := logging.CaptureForTest()
	defer capture.Restore()

	db, err := boltstore.Open(filepath.Join(t.TempDir(), "kv.db"), boltstore.WithCompression(true))
	if err != nil {
		t.Fatal(err)
	}
	kv := store.New(db)
	defer func() { _ = kv.Close() }()

	base, cancel, done := startServer(t, kv)

	payload := strings.Repeat("<p>bolt</p>", 100)
	if code, _, body := send(t, http.MethodPut, base+"/page", "text/html", payload); code != 200 || body != "inserted" {
		t.Fatalf("put: %d %q", code, body)
	}
	code, hdr, body := send(t, http.MethodGet, base+"/page", "", "")
	if code != 200 || body != payload || hdr.Get("Content-Type") != "text/html" {
		t.Fatalf("get: %d %q %q", code, hdr.Get("Content-Type"), body)
	}
	if hdr.Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id")
	}

	if code, _, body := send(t, http.MethodPut, base+"/structured/s?ttl=120", "", `{"foo":"f","bar":42}`); code != 200 || body != "inserted" {
		t.Fatalf("structured put: %d %q", code, body)
	}
	if code, _, body := send(t, http.MethodGet, base+"/structured/s", "", ""); code != 200 || body != `{"foo":"f","bar":42}` {
		t.Fatalf("structured get: %d %q", code, body)
	}
	if code, _, body := send(t, http.MethodGet, base+"/structured/page", "", ""); code != 404 || body != "key not found" {
		t.Fatalf("structured get of raw value: %d %q", code, body)
	}

	code, _, body = send(t, http.MethodGet, base+"/list?prefix=p", "", "")
	if code != 200 || body != `{"keys":[{"name":"page","metadata":{"content_type":"text/html"}}],"list_complete":true}` {
		t.Fatalf("list: %d %s", code, body)
	}

	if code, _, body := send(t, http.MethodDelete, base+"/page", "", ""); code != 200 || body != "deleted" {
		t.Fatalf("delete: %d %q", code, body)
	}
	if code, _, _ := send(t, http.MethodGet, base+"/page", "", ""); code != 404 {
		t.Fatalf("get after delete: %d", code)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServerStructuredMaxTTL(t *testing.T) {
	capture := logging.CaptureForTest()
	defer capture.Restore()

	db, err := boltstore.Open(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatal(err)
	}
	kv := store.New(db)
	defer func() { _ = kv.Close() }()

	base, _, _ := startServer(t, kv)

	// Both land past 2262, where a nanosecond timestamp would overflow.
	for _, ttl := range []string{"8000000000", strconv.FormatInt(math.MaxInt64/int64(time.Second), 10)} {
		if code, _, body := send(t, http.MethodPut, base+"/structured/far?ttl="+ttl, "", `{"foo":"later","bar":7}`); code != 200 || body != "inserted" {
			t.Fatalf("ttl=%s put: %d %q", ttl, code, body)
		}
		if code, _, body := send(t, http.MethodGet, base+"/structured/far", "", ""); code != 200 || body != `{"foo":"later","bar":7}` {
			t.Fatalf("ttl=%s get: %d %q", ttl, code, body)
		}
	}

	over := strconv.FormatInt(math.MaxInt64/int64(time.Second)+1, 10)
	if code, _, body := send(t, http.MethodPut, base+"/structured/far?ttl="+over, "", `{"foo":"x","bar":1}`); code != 400 || body != "invalid ttl" {
		t.Fatalf("ttl above bound: %d %q", code, body)
	}
}

func TestServeBeforeListen(t *testing.T) {
	srv := gateway.NewServer(config.Defaults().Server, nil)
	if err := srv.Serve(context.Background()); err == nil {
		t.Fatal("Serve without Listen should fail")
	}
	if srv.Addr() != "" {
		t.Fatalf("Addr before Listen: got %q", srv.Addr())
	}
}

func TestListenBadAddress(t *testing.T) {
	cfg := config.Defaults().Server
	cfg.Listen = "256.0.0.1:99999"
	if err := gateway.NewServer(cfg, nil).Listen(); err == nil {
		t.Fatal("expected listen error")
	}
}
