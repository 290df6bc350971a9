// Package memory keeps run files in memory. It behaves like storage/local,
// except that runs never touch the disk: only Promote writes, and it writes
// the output file. Every run lives in memory until merged, so it only suits
// inputs that fit in memory twice over.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("memory: file not found")

// Storage is safe for concurrent use.
type Storage struct {
	mu        sync.Mutex
	dir       string
	pending   map[string]*file
	published map[string][]byte
}

func NewMemoryStorage(dir string) *Storage {
	return &Storage{
		dir:       dir,
		pending:   make(map[string]*file),
		published: make(map[string][]byte),
	}
}

// Dir returns the prefix of published paths. Nothing is created there.
func (s *Storage) Dir() string {
	return s.dir
}

// file is a pending file. Its content moves to the published set on
// Publish.
type file struct {
	bytes.Buffer
	closed bool
}

func (f *file) Close() error {
	f.closed = true
	return nil
}

func (s *Storage) Create(_ context.Context, name string) (io.WriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := &file{}
	s.pending[path.Base(name)] = f
	return f, nil
}

func (s *Storage) Publish(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := path.Base(name)
	f, ok := s.pending[base]
	if !ok {
		return "", fmt.Errorf("%w: pending %s", ErrNotFound, name)
	}
	delete(s.pending, base)

	p := path.Join(s.dir, base)
	s.published[p] = f.Bytes()
	return p, nil
}

func (s *Storage) Discard(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, path.Base(name))
	return nil
}

func (s *Storage) Open(_ context.Context, p string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, ok := s.published[s.key(p)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (s *Storage) Exists(_ context.Context, p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.published[s.key(p)]
	return ok
}

func (s *Storage) Delete(_ context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.key(p)
	if _, ok := s.published[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	delete(s.published, key)
	return nil
}

// Promote writes a published or pending file to dst on the local
// filesystem and drops it from the store.
func (s *Storage) Promote(_ context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.key(src)
	content, published := s.published[key]
	if !published {
		f, ok := s.pending[path.Base(src)]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, src)
		}
		content = f.Bytes()
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir for %s: %w", dst, err)
	}
	if err := os.WriteFile(dst, content, 0o644); err != nil {
		return fmt.Errorf("failed to promote %s to %s: %w", src, dst, err)
	}

	if published {
		delete(s.published, key)
	} else {
		delete(s.pending, path.Base(src))
	}
	return nil
}

// List returns the paths of all published files in name order.
func (s *Storage) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files := make([]string, 0, len(s.published))
	for p := range s.published {
		files = append(files, p)
	}
	sort.Strings(files)
	return files, nil
}

// Pending returns the names of files created but neither published nor
// discarded.
func (s *Storage) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.pending))
	for name := range s.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cleanup drops every file held by the store.
func (s *Storage) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.pending)
	clear(s.published)
	return nil
}

func (s *Storage) key(p string) string {
	return path.Join(s.dir, path.Base(p))
}
