package blob

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"

	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/fault"
)

// GCSStore keeps blobs under gs://bucket/prefix/<hex>. Writes use an
// if-not-exists precondition so concurrent inserts of the same digest
// cannot race.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore builds a store from ambient application credentials.
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "blob_gcs_config_failed", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSStore) objectFor(hexDigest string) *storage.ObjectHandle {
	name := hexDigest
	if s.prefix != "" {
		name = s.prefix + "/" + hexDigest
	}
	return s.client.Bucket(s.bucket).Object(name)
}

func (s *GCSStore) Put(ctx context.Context, data []byte) (string, error) {
	digest := canonicalize.Digest(data)
	hexDigest, err := hexOf(digest)
	if err != nil {
		return "", err
	}

	w := s.objectFor(hexDigest).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fault.Wrap(fault.KindDependencyUnavailable, "", "blob_gcs_write_failed", err)
	}
	if err := w.Close(); err != nil {
		// Precondition failure means the digest is already stored,
		// which is the idempotent success path.
		if isPreconditionFailed(err) {
			return digest, nil
		}
		return "", fault.Wrap(fault.KindDependencyUnavailable, "", "blob_gcs_commit_failed", err)
	}
	return digest, nil
}

func isPreconditionFailed(err error) bool {
	// googleapi.Error with code 412 surfaces through the storage writer.
	type coder interface{ HTTPCode() int }
	var c coder
	if errors.As(err, &c) {
		return c.HTTPCode() == 412
	}
	return false
}

func (s *GCSStore) Get(ctx context.Context, digest string) ([]byte, error) {
	hexDigest, err := hexOf(digest)
	if err != nil {
		return nil, err
	}
	r, err := s.objectFor(hexDigest).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "blob_not_found", err)
		}
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "blob_gcs_get_failed", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "blob_gcs_read_failed", err)
	}
	if canonicalize.Digest(data) != digest {
		return nil, fault.New(fault.KindIntegrity, "", "blob_digest_mismatch")
	}
	return data, nil
}

func (s *GCSStore) Exists(ctx context.Context, digest string) (bool, error) {
	hexDigest, err := hexOf(digest)
	if err != nil {
		return false, err
	}
	_, err = s.objectFor(hexDigest).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fault.Wrap(fault.KindDependencyUnavailable, "", "blob_gcs_attrs_failed", err)
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, digest string) error {
	hexDigest, err := hexOf(digest)
	if err != nil {
		return err
	}
	if err := s.objectFor(hexDigest).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fault.Wrap(fault.KindDependencyUnavailable, "", "blob_gcs_delete_failed", err)
	}
	return nil
}
