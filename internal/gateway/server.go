// Package gateway exposes a key-value store over HTTP: raw values with a
// content-type metadata record, and schema-checked structured values with
// optional expiration.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"kvgate/internal/config"
	"kvgate/internal/store"
)

// Store is the key-value capability the handlers need. *store.KV
// implements it.
type Store interface {
	Enumerate(ctx context.Context, opts store.ListOptions) (*store.ListResult, error)
	PutBytes(ctx context.Context, key string, value []byte, metadata any, opts store.PutOptions) error
	PutSerialized(ctx context.Context, key string, v any, opts store.PutOptions) error
	GetBytesWithMetadata(ctx context.Context, key string, meta any) ([]byte, store.MetadataState, error)
	GetDeserialized(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

// Options tunes the router. Zero values disable the body limit and rate
// limiting.
type Options struct {
	MaxBodyBytes int64
	Limiter      *RateLimiter
}

// NewRouter returns the gateway's HTTP handler.
//
//	GET    /list?limit=&prefix=&cursor=
//	PUT    /{key}
//	GET    /{key}
//	DELETE /{key}
//	PUT    /structured/{key}?ttl=
//	GET    /structured/{key}
func NewRouter(st Store, opts Options) http.Handler {
	raw := NewUnstructured(st)
	structured := NewStructured(st)

	mux := http.NewServeMux()
	mux.Handle("GET /list", handle(raw.List))
	mux.Handle("PUT /{key}", handle(raw.Put))
	mux.Handle("GET /{key}", handle(raw.Get))
	mux.Handle("DELETE /{key}", handle(raw.Delete))
	mux.Handle("PUT /structured/{key}", handle(structured.Put))
	mux.Handle("GET /structured/{key}", handle(structured.Get))

	var h http.Handler = mux
	h = withBodyLimit(h, opts.MaxBodyBytes)
	h = withRateLimit(h, opts.Limiter)
	return withRequestLog(h)
}

// Server runs the gateway router on a TCP listener.
type Server struct {
	addr            string
	http            *http.Server
	limiter         *RateLimiter
	rateSweep       time.Duration
	shutdownTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a server for st configured by cfg.
func NewServer(cfg config.ServerConfig, st Store) *Server {
	var limiter *RateLimiter
	if cfg.RateLimit > 0 {
		limiter = NewRateLimiter(RateLimit{
			PerSecond: cfg.RateLimit,
			Burst:     cfg.RateBurst,
			Idle:      cfg.RateIdle.Duration,
		})
	}
	handler := NewRouter(st, Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
		Limiter:      limiter,
	})
	return &Server{
		addr:      cfg.Listen,
		limiter:   limiter,
		rateSweep: cfg.RateSweep.Duration,
		http: &http.Server{
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout.Duration,
			WriteTimeout: cfg.WriteTimeout.Duration,
		},
		shutdownTimeout: cfg.ShutdownTimeout.Duration,
	}
}

// Listen binds the server socket. Call Serve to start accepting requests.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the listener's address. Useful when listening on :0.
func (s *Server) Addr() string {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}

// Serve handles requests until ctx is cancelled, then shuts down
// gracefully, giving in-flight requests the configured shutdown timeout.
// Call Listen first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("Serve called before Listen")
	}

	if s.limiter != nil && s.rateSweep > 0 {
		go s.limiter.Run(ctx, s.rateSweep)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		timeout := s.shutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}

// Start is a convenience that calls Listen + Serve.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}
