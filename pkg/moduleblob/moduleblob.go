// Package moduleblob stores the module artifact bytes that ModuleCatalog
// tracks metadata for. The only implementation here is a local
// filesystem store, laid out the way the teacher's local volume driver
// lays out volume directories: one file per artifact under a base path.
package moduleblob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/stormstack/thunder/pkg/errs"
)

// DefaultStorageDir is used when NewLocalStore is given an empty basePath.
const DefaultStorageDir = "/var/lib/thunder/modules"

// Store persists and serves module artifact bytes.
type Store interface {
	// Put writes data to the store under (name, version) and returns
	// the artifact's size and sha256 checksum.
	Put(ctx context.Context, name, version string, data io.Reader) (size int64, checksum string, err error)

	// Open returns a reader for the artifact's bytes. Callers must close it.
	Open(ctx context.Context, name, version string) (io.ReadCloser, error)

	// Delete removes the artifact's bytes. Deleting a missing artifact is
	// not an error.
	Delete(ctx context.Context, name, version string) error
}

// LocalStore implements Store on the local filesystem.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates the storage directory (if needed) and returns a
// LocalStore rooted at it.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if basePath == "" {
		basePath = DefaultStorageDir
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("creating module storage directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (s *LocalStore) path(name, version string) string {
	return filepath.Join(s.basePath, name, version+".tar.gz")
}

func (s *LocalStore) Put(_ context.Context, name, version string, data io.Reader) (int64, string, error) {
	dir := filepath.Join(s.basePath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", errs.Wrap(errs.KindInternal, err, "creating module directory for %s", name)
	}

	dst := s.path(name, version)
	f, err := os.Create(dst)
	if err != nil {
		return 0, "", errs.Wrap(errs.KindInternal, err, "creating module file %s", dst)
	}
	defer func() { _ = f.Close() }()

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(data, hasher))
	if err != nil {
		return 0, "", errs.Wrap(errs.KindInternal, err, "writing module file %s", dst)
	}

	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *LocalStore) Open(_ context.Context, name, version string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(name, version))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.KindModuleNotFound, "module %s:%s has no stored artifact", name, version)
		}
		return nil, errs.Wrap(errs.KindInternal, err, "opening module file")
	}
	return f, nil
}

func (s *LocalStore) Delete(_ context.Context, name, version string) error {
	if err := os.Remove(s.path(name, version)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindInternal, err, "deleting module file")
	}
	return nil
}
