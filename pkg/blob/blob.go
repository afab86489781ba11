// Package blob stores raw bytes content-addressed by SHA-256: MIME
// sources, attachment bodies, extracted texts. Writes are
// write-if-absent; a digest, once stored, always resolves to the same
// bytes. Deletion exists only for the retention job.
package blob

import (
	"context"
	"strings"

	"github.com/intake-labs/ire/pkg/fault"
)

// Store is the content-addressed byte store contract.
type Store interface {
	// Put persists data and returns its prefixed digest. Storing the
	// same bytes twice is a no-op returning the same digest.
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves bytes by prefixed digest.
	Get(ctx context.Context, digest string) ([]byte, error)
	// Exists reports whether the digest is stored.
	Exists(ctx context.Context, digest string) (bool, error)
	// Delete removes a blob. Only the retention job may call this.
	Delete(ctx context.Context, digest string) error
}

// hexOf strips the "sha256:" prefix and validates the remainder.
func hexOf(digest string) (string, error) {
	hexPart, ok := strings.CutPrefix(digest, "sha256:")
	if !ok || len(hexPart) != 64 {
		return "", fault.New(fault.KindValidation, "", "blob_bad_digest")
	}
	for _, c := range hexPart {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fault.New(fault.KindValidation, "", "blob_bad_digest")
		}
	}
	return hexPart, nil
}
