package gateway

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"kvgate/internal/store"
)

// maxTTLSeconds keeps ttl*time.Second inside time.Duration.
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

var errOutOfRange = errors.New("out of range")

// parseBoundedInt parses raw as a base-10 integer within [lo, hi].
func parseBoundedInt(raw string, lo, hi int64) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d: %w [%d, %d]", n, errOutOfRange, lo, hi)
	}
	return n, nil
}

// listLimit reads the optional limit parameter. Anything missing or not a
// positive integer falls back to the default; the store clamps large values.
func listLimit(q url.Values) int {
	n, err := parseBoundedInt(q.Get("limit"), 1, math.MaxInt32)
	if err != nil {
		return store.DefaultListLimit
	}
	return int(n)
}

// ttlParam reads the optional ttl parameter in seconds. Unlike limit, a
// present but invalid value is an error.
func ttlParam(q url.Values) (time.Duration, bool, error) {
	if !q.Has("ttl") {
		return 0, false, nil
	}
	n, err := parseBoundedInt(q.Get("ttl"), 1, maxTTLSeconds)
	if err != nil {
		return 0, true, err
	}
	return time.Duration(n) * time.Second, true, nil
}
