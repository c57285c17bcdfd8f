package gateway

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"kvgate/internal/logging"
)

const requestIDHeader = "X-Request-Id"

var httplog = logging.For("http")

// handlerFunc is a route handler that reports failures as errors instead
// of writing them.
type handlerFunc func(http.ResponseWriter, *http.Request) error

// handle turns a handlerFunc into an http.Handler, writing any returned
// error as a status and short message.
func handle(fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}
		e := asError(err)
		if e.Status >= http.StatusInternalServerError {
			httplog.ErrorContext(r.Context(), "request failed",
				"method", r.Method, "path", r.URL.Path, "status", e.Status, "err", e)
		} else {
			httplog.DebugContext(r.Context(), "request rejected",
				"method", r.Method, "path", r.URL.Path, "status", e.Status, "err", e)
		}
		writeError(w, e)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// withRequestLog assigns each request an id, echoes it in X-Request-Id and
// writes one access-log line when the request completes. An incoming
// X-Request-Id is kept.
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		r = r.WithContext(logging.WithRequestID(r.Context(), id))

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		httplog.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration", time.Since(start),
		)
	})
}

// withBodyLimit caps request bodies at limit bytes. limit <= 0 disables it.
func withBodyLimit(next http.Handler, limit int64) http.Handler {
	if limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

// withRateLimit rejects clients that exceed rl with 429 and a Retry-After
// telling them when their next token is due.
func withRateLimit(next http.Handler, rl *RateLimiter) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := rl.Take(clientIP(r))
		if !ok {
			retry := retryAfterSeconds(wait)
			httplog.DebugContext(r.Context(), "rate limited", "remote", r.RemoteAddr, "retry_after", retry)
			w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
			writeError(w, ErrTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
