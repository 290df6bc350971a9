// Package local keeps run files in a working directory on the local
// filesystem. Files are written under dir/pending and only become visible
// in dir once published.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

const pendingDirName = "pending"

// Storage implements merge.Store and runwriter.Storage using the local
// filesystem.
type Storage struct {
	dir        string
	pendingDir string
}

// NewLocalStorage creates dir and its pending subdirectory if needed.
func NewLocalStorage(dir string) (*Storage, error) {
	pendingDir := filepath.Join(dir, pendingDirName)
	if err := os.MkdirAll(pendingDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir %s: %w", dir, err)
	}
	return &Storage{
		dir:        dir,
		pendingDir: pendingDir,
	}, nil
}

// Dir returns the directory published runs live in.
func (s *Storage) Dir() string {
	return s.dir
}

// Create opens a new pending file, truncating any leftover with the same
// name.
func (s *Storage) Create(_ context.Context, name string) (io.WriteCloser, error) {
	path := filepath.Join(s.pendingDir, filepath.Base(name))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", name, err)
	}
	return file, nil
}

// Publish moves a pending file into the working directory and returns its
// new path.
func (s *Storage) Publish(_ context.Context, name string) (string, error) {
	base := filepath.Base(name)
	newPath := filepath.Join(s.dir, base)
	if err := os.Rename(filepath.Join(s.pendingDir, base), newPath); err != nil {
		return "", fmt.Errorf("failed to publish file %s: %w", name, err)
	}
	return newPath, nil
}

// Discard removes a pending file. A file that was never created is not an
// error.
func (s *Storage) Discard(_ context.Context, name string) error {
	err := os.Remove(filepath.Join(s.pendingDir, filepath.Base(name)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to discard file %s: %w", name, err)
	}
	return nil
}

// Open opens a published file for reading.
func (s *Storage) Open(_ context.Context, path string) (io.ReadCloser, error) {
	file, err := os.Open(s.published(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	return file, nil
}

// Exists reports whether a published file is present.
func (s *Storage) Exists(_ context.Context, path string) bool {
	info, err := os.Stat(s.published(path))
	return err == nil && info.Mode().IsRegular()
}

// Delete removes a published file.
func (s *Storage) Delete(_ context.Context, path string) error {
	if err := os.Remove(s.published(path)); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

// Promote moves a published or pending file to dst, outside the working
// directory. When a rename is impossible, for instance across filesystems,
// the file is copied and the source removed.
func (s *Storage) Promote(_ context.Context, src, dst string) error {
	from := s.published(src)
	if _, err := os.Stat(from); errors.Is(err, os.ErrNotExist) {
		from = filepath.Join(s.pendingDir, filepath.Base(src))
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir for %s: %w", dst, err)
	}

	renameErr := os.Rename(from, dst)
	if renameErr == nil {
		return nil
	}
	if err := copyFile(from, dst); err != nil {
		return fmt.Errorf("failed to promote %s to %s: %w", src, dst, errors.Join(renameErr, err))
	}
	if err := os.Remove(from); err != nil {
		return fmt.Errorf("failed to remove promoted file %s: %w", src, err)
	}
	return nil
}

// List returns the paths of all published files in name order.
func (s *Storage) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, filepath.Join(s.dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Cleanup removes the working directory and everything in it.
func (s *Storage) Cleanup() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("failed to remove work dir %s: %w", s.dir, err)
	}
	return nil
}

func (s *Storage) published(path string) string {
	return filepath.Join(s.dir, filepath.Base(path))
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
