package infra

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Vovarama1992/clipvault/internal/ports"
	"github.com/google/uuid"
)

var (
	ErrTempClosed  = errors.New("temp file is closed")
	ErrInvalidName = errors.New("invalid storage name")
)

// LocalFileStore keeps placed media flat in dir and receives uploads in
// tempDir. Both must be on one filesystem so a commit is a single rename.
type LocalFileStore struct {
	dir     string
	tempDir string
}

func NewLocalFileStore(dir, tempDir string) (*LocalFileStore, error) {
	dir = filepath.Clean(dir)
	if tempDir == "" {
		tempDir = filepath.Join(dir, ".tmp")
	}
	tempDir = filepath.Clean(tempDir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}
	return &LocalFileStore{dir: dir, tempDir: tempDir}, nil
}

var _ ports.FileStore = (*LocalFileStore)(nil)

func (s *LocalFileStore) NewTemp() (ports.TempFile, error) {
	f, err := os.OpenFile(filepath.Join(s.tempDir, uuid.NewString()), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return &localTemp{store: s, f: f, path: f.Name()}, nil
}

func (s *LocalFileStore) Open(name string) (io.ReadSeekCloser, int64, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is not a regular file: %w", name, ErrInvalidName)
	}
	return f, fi.Size(), nil
}

func (s *LocalFileStore) Remove(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// SweepTemp deletes temp files last modified before olderThan.
func (s *LocalFileStore) SweepTemp(olderThan time.Time) (int, error) {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(olderThan) {
			if err := os.Remove(filepath.Join(s.tempDir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// path confines name to the flat upload directory.
func (s *LocalFileStore) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return filepath.Join(s.dir, name), nil
}

type localTemp struct {
	store *LocalFileStore
	f     *os.File
	path  string

	mu     sync.Mutex
	size   int64
	closed bool
}

func (t *localTemp) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrTempClosed
	}
	n, err := t.f.Write(p)
	t.size += int64(n)
	return n, err
}

func (t *localTemp) Size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

func (t *localTemp) CommitAs(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTempClosed
	}
	dst, err := t.store.path(name)
	if err != nil {
		return err
	}

	t.closed = true
	if err := t.f.Sync(); err != nil {
		t.f.Close()
		os.Remove(t.path)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := t.f.Close(); err != nil {
		os.Remove(t.path)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(t.path, dst); err != nil {
		os.Remove(t.path)
		return fmt.Errorf("committing %s: %w", name, err)
	}
	return nil
}

func (t *localTemp) Discard() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	err := t.f.Close()
	os.Remove(t.path)
	return err
}
