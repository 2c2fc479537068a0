package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStorage stores images on the local file system, one directory per partition.
type LocalStorage struct {
	baseDir string // upload root, e.g. "/srv/iacamera/uploads"
}

// NewLocalStorage creates a LocalStorage rooted at baseDir.
func NewLocalStorage(baseDir string) *LocalStorage {
	return &LocalStorage{baseDir: filepath.Clean(baseDir)}
}

var _ Storage = (*LocalStorage)(nil)

// Root returns the upload root directory.
func (s *LocalStorage) Root() string {
	return s.baseDir
}

// EnsurePartition creates the partition directory (and any missing parents)
// and returns its path. It succeeds when the directory already exists, even
// if another request created it concurrently.
func (s *LocalStorage) EnsurePartition(partition string) (string, error) {
	dir, err := s.resolve(s.baseDir, partition)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir: %w", err)
	}
	return dir, nil
}

// Save streams data into a staging file inside the partition, syncs it and
// renames it onto the final name, so the final path never exposes a partial
// write. The staging file is removed on failure.
func (s *LocalStorage) Save(ctx context.Context, partition, filename string, data io.Reader) (string, error) {
	dir, err := s.EnsurePartition(partition)
	if err != nil {
		return "", err
	}
	dest, err := s.resolve(dir, filename)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("storage: %w", err)
	}

	staging := filepath.Join(dir, "."+uuid.NewString()+".part")
	if err := writeSynced(staging, data); err != nil {
		_ = os.Remove(staging)
		return "", fmt.Errorf("storage: write: %w", err)
	}
	if err := os.Rename(staging, dest); err != nil {
		_ = os.Remove(staging)
		return "", fmt.Errorf("storage: rename: %w", err)
	}
	return dest, nil
}

// resolve joins name onto parent and rejects anything that is not a direct child.
func (s *LocalStorage) resolve(parent, name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	p := filepath.Join(parent, name)
	if filepath.Dir(p) != parent {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return p, nil
}

func writeSynced(path string, data io.Reader) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(f, data); err != nil {
		return err
	}
	return f.Sync()
}
