package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"unicode/utf8"

	"kvgate/internal/store"
)

// StructuredValue is the only shape accepted by the structured endpoints.
type StructuredValue struct {
	Foo string `json:"foo"`
	Bar int32  `json:"bar"`
}

// UnmarshalJSON requires both fields, matched by exact name and given at
// most once. Unknown fields are ignored. Input that is not valid UTF-8, or
// that escapes a lone surrogate, is rejected so that what is stored always
// re-encodes to the same text.
func (v *StructuredValue) UnmarshalJSON(b []byte) error {
	if !utf8.Valid(b) {
		return errors.New("invalid utf-8")
	}
	if err := checkSurrogates(b); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	if tok, err := dec.Token(); err != nil {
		return err
	} else if tok != json.Delim('{') {
		return fmt.Errorf("expected object, got %v", tok)
	}

	var (
		foo  *string
		bar  *int32
		seen = make(map[string]bool, 2)
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		if seen[name] {
			return fmt.Errorf("duplicate field %s", name)
		}

		switch name {
		case "foo":
			seen[name] = true
			err = dec.Decode(&foo)
		case "bar":
			seen[name] = true
			err = dec.Decode(&bar)
		default:
			var skip json.RawMessage
			err = dec.Decode(&skip)
		}
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}

	switch {
	case foo == nil:
		return errors.New("missing field foo")
	case bar == nil:
		return errors.New("missing field bar")
	}
	v.Foo, v.Bar = *foo, *bar
	return nil
}

// checkSurrogates rejects \u escapes that encode half of a surrogate pair
// without the other half. Backslashes only occur inside strings in valid
// JSON, so b can be scanned without tracking string boundaries.
func checkSurrogates(b []byte) error {
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			continue
		}
		if b[i+1] != 'u' {
			i++
			continue
		}
		r, ok := hexRune(b[i+2:])
		if !ok {
			return errors.New("bad unicode escape")
		}
		i += 5
		switch {
		case r >= 0xDC00 && r <= 0xDFFF:
			return errors.New("lone low surrogate")
		case r >= 0xD800 && r <= 0xDBFF:
			var lo rune
			if i+2 < len(b) && b[i+1] == '\\' && b[i+2] == 'u' {
				lo, ok = hexRune(b[i+3:])
			}
			if !ok || lo < 0xDC00 || lo > 0xDFFF {
				return errors.New("lone high surrogate")
			}
			i += 6
		}
	}
	return nil
}

func hexRune(b []byte) (rune, bool) {
	if len(b) < 4 {
		return 0, false
	}
	n, err := strconv.ParseUint(string(b[:4]), 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(n), true
}

// Structured serves schema-checked JSON values with optional expiration.
type Structured struct {
	store Store
}

func NewStructured(st Store) *Structured {
	return &Structured{store: st}
}

// Put validates the body, then the ttl parameter, and writes only when
// both are valid.
func (h *Structured) Put(w http.ResponseWriter, r *http.Request) error {
	key := r.PathValue("key")
	body, err := readBody(r, ErrInvalidBody)
	if err != nil {
		return err
	}

	var v StructuredValue
	if err := json.Unmarshal(body, &v); err != nil {
		return withCause(ErrInvalidBody, err)
	}

	var opts store.PutOptions
	ttl, present, err := ttlParam(r.URL.Query())
	if err != nil {
		return withCause(ErrInvalidTTL, err)
	}
	if present {
		opts.TTL = ttl
	}

	if err := h.store.PutSerialized(r.Context(), key, v, opts); err != nil {
		return storeError(err)
	}
	writeText(w, http.StatusOK, msgInserted)
	return nil
}

// Get returns the value as JSON. A stored value that does not fit
// StructuredValue, such as one written through the raw endpoints, reads as
// a missing key.
func (h *Structured) Get(w http.ResponseWriter, r *http.Request) error {
	var v StructuredValue
	err := h.store.GetDeserialized(r.Context(), r.PathValue("key"), &v)
	switch {
	case err == nil:
		return writeJSON(w, http.StatusOK, v)
	case errors.Is(err, store.ErrSerialization):
		return withCause(ErrKeyNotFound, err)
	default:
		return storeError(err)
	}
}
