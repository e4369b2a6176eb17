// Package checksum computes SHA-256 digests for feed entity tags and cached
// blob contents.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the lowercase hex SHA-256 of data
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ETag returns a strong entity tag for a response body.
func ETag(body []byte) string {
	return `"` + Sum(body) + `"`
}

// MatchETag reports whether an If-None-Match header value matches etag. The
// header may list several tags, may be "*", and may carry weak tags.
func MatchETag(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
