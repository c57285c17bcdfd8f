package gateway

import (
	"errors"
	"net/http"

	"kvgate/internal/store"
)

// Error is a request outcome that maps to a non-2xx response. The Message
// is what the caller sees; Err, when set, is the underlying cause and is
// only logged.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on status and message so that a sentinel still matches after
// withCause attached a cause to a copy of it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Status == t.Status && e.Message == t.Message
}

var (
	ErrKeyNotFound       = &Error{Status: http.StatusNotFound, Message: "key not found"}
	ErrNoMetadata        = &Error{Status: http.StatusInternalServerError, Message: "no metadata found"}
	ErrMalformedMetadata = &Error{Status: http.StatusInternalServerError, Message: "malformed metadata"}
	ErrInvalidBody       = &Error{Status: http.StatusBadRequest, Message: "invalid body"}
	ErrInvalidTTL        = &Error{Status: http.StatusBadRequest, Message: "invalid ttl"}
	ErrInvalidKey        = &Error{Status: http.StatusBadRequest, Message: "invalid key"}
	ErrInvalidCursor     = &Error{Status: http.StatusBadRequest, Message: "invalid cursor"}
	ErrPayloadTooLarge   = &Error{Status: http.StatusRequestEntityTooLarge, Message: "payload too large"}
	ErrTooManyRequests   = &Error{Status: http.StatusTooManyRequests, Message: "too many requests"}
	ErrInternal          = &Error{Status: http.StatusInternalServerError, Message: "internal server error"}
)

func withCause(sentinel *Error, cause error) *Error {
	return &Error{Status: sentinel.Status, Message: sentinel.Message, Err: cause}
}

// storeError classifies an error returned by the store. Anything not
// recognized is an internal error.
func storeError(err error) *Error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return withCause(ErrKeyNotFound, err)
	// Key checks run before the backend is touched; these are caller errors.
	case errors.Is(err, store.ErrEmptyKey), errors.Is(err, store.ErrKeyTooLong):
		return withCause(ErrInvalidKey, err)
	case errors.Is(err, store.ErrBadCursor):
		return withCause(ErrInvalidCursor, err)
	default:
		return withCause(ErrInternal, err)
	}
}

// asError converts any handler error into an *Error.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return withCause(ErrInternal, err)
}

func writeError(w http.ResponseWriter, e *Error) {
	writeText(w, e.Status, e.Message)
}
