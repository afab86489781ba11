package blob

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/fault"
)

// FileStore keeps blobs as <hex>.blob files fanned out by the first
// two hex characters. Writes go through a temp file and rename so a
// crash never leaves a partial blob under its final name.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "blob_dir_unwritable", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) pathFor(hexDigest string) string {
	return filepath.Join(s.baseDir, hexDigest[:2], hexDigest+".blob")
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	digest := canonicalize.Digest(data)
	hexDigest, err := hexOf(digest)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(hexDigest)
	if _, err := os.Stat(path); err == nil {
		return digest, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fault.Wrap(fault.KindDependencyUnavailable, "", "blob_dir_unwritable", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return "", fault.Wrap(fault.KindDependencyUnavailable, "", "blob_write_failed", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fault.Wrap(fault.KindDependencyUnavailable, "", "blob_commit_failed", err)
	}
	return digest, nil
}

func (s *FileStore) Get(_ context.Context, digest string) ([]byte, error) {
	hexDigest, err := hexOf(digest)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.pathFor(hexDigest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "blob_not_found", err)
		}
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "blob_read_failed", err)
	}
	if canonicalize.Digest(data) != digest {
		return nil, fault.New(fault.KindIntegrity, "", "blob_digest_mismatch")
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, digest string) (bool, error) {
	hexDigest, err := hexOf(digest)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, statErr := os.Stat(s.pathFor(hexDigest))
	if statErr == nil {
		return true, nil
	}
	if os.IsNotExist(statErr) {
		return false, nil
	}
	return false, fault.Wrap(fault.KindDependencyUnavailable, "", "blob_stat_failed", statErr)
}

func (s *FileStore) Delete(_ context.Context, digest string) error {
	hexDigest, err := hexOf(digest)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.pathFor(hexDigest)); err != nil && !os.IsNotExist(err) {
		return fault.Wrap(fault.KindDependencyUnavailable, "", "blob_delete_failed", err)
	}
	return nil
}
