// Package fingerprint computes content-addressed hashes over raw diff text.
// The fingerprint is the deduplication key: two commits with byte-identical
// diffs resolve to the same value regardless of origin or commit message.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// EmptyDiff is the fingerprint of zero-length diff text. An empty diff is
// a valid input, not an error.
var EmptyDiff = Sum(nil)

// Sum returns the hex-encoded SHA-256 digest of the diff bytes.
func Sum(diff []byte) string {
	h := sha256.Sum256(diff)
	return hex.EncodeToString(h[:])
}

// SumString is Sum over a string without an extra copy at call sites.
func SumString(diff string) string {
	return Sum([]byte(diff))
}

// IsEmpty reports whether fp is the empty-diff sentinel.
func IsEmpty(fp string) bool {
	return fp == EmptyDiff
}
