// Package canonicalize provides the deterministic primitives every stage
// hashes through: RFC 8785 (JCS) JSON canonicalization, canonical text forms
// for normalized messages, snippet hashing and message fingerprints.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
// v is marshaled with its json tags first, then transformed, so struct
// field names and omitempty behavior are respected.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return canonical, nil
}

// JCSString returns the JCS canonical form as a string.
func JCSString(v any) (string, error) {
	data, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CanonicalHash returns the prefixed SHA-256 digest of the canonical JSON
// representation of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return Digest(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes as a bare hex string.
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Digest computes the SHA-256 hash of raw bytes in the prefixed form used
// by every artifact reference and hash chain: "sha256:<hex>".
func Digest(data []byte) string {
	return "sha256:" + HashBytes(data)
}

// SnippetSHA256 hashes an evidence snippet's UTF-8 bytes.
func SnippetSHA256(snippet string) string {
	return Digest([]byte(snippet))
}
