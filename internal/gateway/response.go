package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return withCause(ErrInternal, err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	return nil
}

// readBody reads the whole request body. A body over the configured limit
// is reported as ErrPayloadTooLarge, any other read failure as onErr.
func readBody(r *http.Request, onErr *Error) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, withCause(ErrPayloadTooLarge, err)
		}
		return nil, withCause(onErr, err)
	}
	return body, nil
}
