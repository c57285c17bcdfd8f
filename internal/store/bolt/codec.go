package bolt

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"kvgate/internal/store"
)

// On-disk record layout, protobuf wire format:
//
//	1: value      bytes
//	2: metadata   bytes   (omitted when the entry has no metadata)
//	3: expiration varint  (unix seconds, omitted when the entry never expires)
//	4: encoding   varint  (0 raw, 1 zstd; omitted when raw)
//	5: exp_nanos  varint  (sub-second part of the expiration, omitted when 0)
//
// Seconds and nanoseconds are split so that expirations past 2262, where
// UnixNano overflows, still round-trip.
const (
	fieldValue      protowire.Number = 1
	fieldMetadata   protowire.Number = 2
	fieldExpiration protowire.Number = 3
	fieldEncoding   protowire.Number = 4
	fieldExpNanos   protowire.Number = 5
)

const (
	encodingRaw  uint64 = 0
	encodingZstd uint64 = 1
)

// Values shorter than this are stored raw even with compression enabled.
const minCompressLen = 256

var errCorruptRecord = errors.New("corrupt record")

func (s *Store) encodeRecord(rec store.Record) []byte {
	value := rec.Value
	encoding := encodingRaw
	if s.encoder != nil && len(value) >= minCompressLen {
		value = s.encoder.EncodeAll(rec.Value, make([]byte, 0, len(rec.Value)))
		encoding = encodingZstd
	}

	b := make([]byte, 0, len(value)+len(rec.Metadata)+24)
	b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
	b = protowire.AppendBytes(b, value)
	if rec.Metadata != nil {
		b = protowire.AppendTag(b, fieldMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, rec.Metadata)
	}
	if !rec.Expiration.IsZero() {
		b = protowire.AppendTag(b, fieldExpiration, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(rec.Expiration.Unix()))
		if ns := rec.Expiration.Nanosecond(); ns != 0 {
			b = protowire.AppendTag(b, fieldExpNanos, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(ns))
		}
	}
	if encoding != encodingRaw {
		b = protowire.AppendTag(b, fieldEncoding, protowire.VarintType)
		b = protowire.AppendVarint(b, encoding)
	}
	return b
}

// decodeRecord copies everything it returns out of b, which may be memory
// owned by a bolt transaction. With withValue false the value is skipped.
func (s *Store) decodeRecord(b []byte, withValue bool) (store.Record, error) {
	var (
		rec      store.Record
		raw      []byte
		encoding = encodingRaw
		expSecs  int64
		expNanos int64
		hasExp   bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return store.Record{}, fmt.Errorf("%w: %v", errCorruptRecord, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldValue && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			raw = v
		case num == fieldMetadata && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				rec.Metadata = append([]byte{}, v...)
			}
		case num == fieldExpiration && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			if n >= 0 {
				expSecs, hasExp = protowire.DecodeZigZag(v), true
			}
		case num == fieldExpNanos && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			if n >= 0 && v >= uint64(time.Second) {
				return store.Record{}, fmt.Errorf("%w: expiration nanos %d", errCorruptRecord, v)
			}
			expNanos = int64(v)
		case num == fieldEncoding && typ == protowire.VarintType:
			encoding, n = protowire.ConsumeVarint(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return store.Record{}, fmt.Errorf("%w: %v", errCorruptRecord, protowire.ParseError(n))
		}
		b = b[n:]
	}
	if hasExp {
		rec.Expiration = time.Unix(expSecs, expNanos)
	}

	if !withValue {
		return rec, nil
	}
	switch encoding {
	case encodingRaw:
		rec.Value = append([]byte{}, raw...)
	case encodingZstd:
		v, err := s.decoder.DecodeAll(raw, nil)
		if err != nil {
			return store.Record{}, fmt.Errorf("%w: decompressing value: %v", errCorruptRecord, err)
		}
		if v == nil {
			v = []byte{}
		}
		rec.Value = v
	default:
		return store.Record{}, fmt.Errorf("%w: unknown encoding %d", errCorruptRecord, encoding)
	}
	return rec, nil
}
