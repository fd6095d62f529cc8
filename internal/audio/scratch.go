package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ErrTooLarge is returned by Scratch.Write when the payload exceeds the limit.
var ErrTooLarge = errors.New("audio payload too large")

// Scratch is an isolated per-request directory. Cleanup is idempotent and
// must be deferred by whoever created it.
type Scratch struct {
	dir  string
	once sync.Once
}

// NewScratch creates a fresh directory under base (os.TempDir() when empty).
func NewScratch(base, prefix string) (*Scratch, error) {
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", base, err)
	}
	dir := filepath.Join(base, prefix+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scratch{dir: dir}, nil
}

// Dir returns the scratch directory.
func (s *Scratch) Dir() string { return s.dir }

// Path joins name onto the scratch directory, dropping any directory part of
// name so uploads cannot escape it.
func (s *Scratch) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Write copies r into the scratch directory under name. limit <= 0 disables
// the size check.
func (s *Scratch) Write(name string, r io.Reader, limit int64) (string, int64, error) {
	path := s.Path(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", path, err)
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", n, fmt.Errorf("write %s: %w", path, err)
	}
	if limit > 0 && n > limit {
		os.Remove(path)
		return "", n, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return path, n, nil
}

// Cleanup removes the directory and everything in it.
func (s *Scratch) Cleanup() error {
	var err error
	s.once.Do(func() {
		err = os.RemoveAll(s.dir)
	})
	return err
}
