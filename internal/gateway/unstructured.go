package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"kvgate/internal/store"
)

// DefaultContentType is recorded when a raw value is written without a
// Content-Type header.
const DefaultContentType = "data/binary"

const (
	msgInserted = "inserted"
	msgDeleted  = "deleted"
)

// ContentMetadata is the metadata record kept beside every raw value.
type ContentMetadata struct {
	ContentType string `json:"content_type"`
}

// UnmarshalJSON requires content_type to be present.
func (m *ContentMetadata) UnmarshalJSON(b []byte) error {
	var raw struct {
		ContentType *string `json:"content_type"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.ContentType == nil {
		return errors.New("missing field content_type")
	}
	m.ContentType = *raw.ContentType
	return nil
}

// Listing is the JSON body of a list response.
type Listing struct {
	Keys         []ListedKey `json:"keys"`
	ListComplete bool        `json:"list_complete"`
	Cursor       string      `json:"cursor,omitempty"`
}

// ListedKey is one key in a Listing. Expiration is in unix seconds.
type ListedKey struct {
	Name       string          `json:"name"`
	Expiration int64           `json:"expiration,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

func newListing(res *store.ListResult) Listing {
	l := Listing{
		Keys:         make([]ListedKey, 0, len(res.Keys)),
		ListComplete: res.ListComplete,
		Cursor:       res.Cursor,
	}
	for _, k := range res.Keys {
		lk := ListedKey{Name: k.Name}
		if !k.Expiration.IsZero() {
			lk.Expiration = k.Expiration.Unix()
		}
		if k.Metadata != nil && json.Valid(k.Metadata) {
			lk.Metadata = json.RawMessage(k.Metadata)
		}
		l.Keys = append(l.Keys, lk)
	}
	return l
}

// Unstructured serves arbitrary byte values with a content-type metadata
// record.
type Unstructured struct {
	store Store
}

func NewUnstructured(st Store) *Unstructured {
	return &Unstructured{store: st}
}

// List enumerates keys. limit falls back to the default when missing or
// invalid; it is never rejected.
func (h *Unstructured) List(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	res, err := h.store.Enumerate(r.Context(), store.ListOptions{
		Limit:  listLimit(q),
		Prefix: q.Get("prefix"),
		Cursor: q.Get("cursor"),
	})
	if err != nil {
		return storeError(err)
	}
	return writeJSON(w, http.StatusOK, newListing(res))
}

// Put stores the raw body and its content type as one write.
func (h *Unstructured) Put(w http.ResponseWriter, r *http.Request) error {
	key := r.PathValue("key")
	body, err := readBody(r, ErrInvalidBody)
	if err != nil {
		return err
	}

	contentType := DefaultContentType
	if v, ok := r.Header["Content-Type"]; ok && len(v) > 0 {
		contentType = v[0]
	}

	err = h.store.PutBytes(r.Context(), key, body, ContentMetadata{ContentType: contentType}, store.PutOptions{})
	if err != nil {
		return storeError(err)
	}
	writeText(w, http.StatusOK, msgInserted)
	return nil
}

// Get returns the value with the stored content type. A value without
// metadata cannot come from Put and is reported as a server fault.
func (h *Unstructured) Get(w http.ResponseWriter, r *http.Request) error {
	key := r.PathValue("key")

	var md ContentMetadata
	value, state, err := h.store.GetBytesWithMetadata(r.Context(), key, &md)
	if err != nil {
		return storeError(err)
	}
	switch state {
	case store.MetadataAbsent:
		return ErrNoMetadata
	case store.MetadataMalformed:
		return ErrMalformedMetadata
	}

	w.Header().Set("Content-Type", md.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value)
	return nil
}

// Delete removes the key and its metadata. Missing keys are not an error.
func (h *Unstructured) Delete(w http.ResponseWriter, r *http.Request) error {
	if err := h.store.Delete(r.Context(), r.PathValue("key")); err != nil {
		return storeError(err)
	}
	writeText(w, http.StatusOK, msgDeleted)
	return nil
}
