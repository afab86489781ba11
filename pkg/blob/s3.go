package blob

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/fault"
)

// S3Store keeps blobs under s3://bucket/prefix/<hex>. The head-then-put
// sequence makes Put idempotent; a concurrent double write lands the
// same bytes under the same key.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store builds a store from the ambient AWS configuration.
func NewS3Store(ctx context.Context, bucket, prefix string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "blob_s3_config_failed", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

// NewS3StoreWithClient injects a preconfigured client, used by tests.
func NewS3StoreWithClient(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) keyFor(hexDigest string) string {
	if s.prefix == "" {
		return hexDigest
	}
	return s.prefix + "/" + hexDigest
}

func (s *S3Store) Put(ctx context.Context, data []byte) (string, error) {
	digest := canonicalize.Digest(data)
	hexDigest, err := hexOf(digest)
	if err != nil {
		return "", err
	}

	exists, err := s.Exists(ctx, digest)
	if err != nil {
		return "", err
	}
	if exists {
		return digest, nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyFor(hexDigest)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fault.Wrap(fault.KindDependencyUnavailable, "", "blob_s3_put_failed", err)
	}
	return digest, nil
}

func (s *S3Store) Get(ctx context.Context, digest string) ([]byte, error) {
	hexDigest, err := hexOf(digest)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyFor(hexDigest)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "blob_not_found", err)
		}
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "blob_s3_get_failed", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "blob_s3_read_failed", err)
	}
	if canonicalize.Digest(data) != digest {
		return nil, fault.New(fault.KindIntegrity, "", "blob_digest_mismatch")
	}
	return data, nil
}

func (s *S3Store) Exists(ctx context.Context, digest string) (bool, error) {
	hexDigest, err := hexOf(digest)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyFor(hexDigest)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fault.Wrap(fault.KindDependencyUnavailable, "", "blob_s3_head_failed", err)
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, digest string) error {
	hexDigest, err := hexOf(digest)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyFor(hexDigest)),
	})
	if err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, "", "blob_s3_delete_failed", err)
	}
	return nil
}
