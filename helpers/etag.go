package helpers

import (
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

// ContentETag returns a strong HTTP entity tag for body, derived from its
// blake3 digest truncated to 128 bits.
func ContentETag(body []byte) string {
	sum := blake3.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// ETagMatches reports whether an If-None-Match header value matches etag.
// Weak comparison is used, as required for If-None-Match.
func ETagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	if strings.TrimSpace(ifNoneMatch) == "*" {
		return true
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}
