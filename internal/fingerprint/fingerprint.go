// Package fingerprint turns raw screen text into a stable, comparable form:
// normalization, content digests, and declarative match-rule evaluation.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// shortDigestLen is the digest prefix recorded in transcripts.
const shortDigestLen = 16

// Normalize prepares screen text for fingerprinting: trailing whitespace is
// trimmed from every line, then wholly-blank leading and trailing lines are
// dropped. Interior blank lines are preserved. Normalize is idempotent.
func Normalize(text string) string {
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r\v\f")
	}
	start := 0
	for start < len(lines) && lines[start] == "" {
		start++
	}
	end := len(lines)
	for end > start && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// Digest computes the sha256 of the normalized text, as a lowercase hex
// string. Two snapshots are the same screen iff their digests are equal.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// ShortDigest truncates a digest for transcript entries and log lines.
func ShortDigest(digest string) string {
	if len(digest) <= shortDigestLen {
		return digest
	}
	return digest[:shortDigestLen]
}
