package assets

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSStore stores assets on the local filesystem under a single root
// directory.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed and returns a store
// scoped to it.
func NewFSStore(root string) (*FSStore, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, errors.New("asset store root is required")
	}
	abs, err := filepath.Abs(filepath.Clean(trimmed))
	if err != nil {
		return nil, fmt.Errorf("resolve asset root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create asset root: %w", err)
	}
	return &FSStore{root: abs}, nil
}

// Root exposes the resolved base directory.
func (s *FSStore) Root() string { return s.root }

func (s *FSStore) resolve(relPath string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimSpace(relPath)))
	if cleaned == "." || cleaned == "" {
		return "", ErrUnsafePath
	}
	if filepath.IsAbs(cleaned) || !filepath.IsLocal(cleaned) {
		return "", ErrUnsafePath
	}
	return filepath.Join(s.root, cleaned), nil
}

func (s *FSStore) AbsPath(relPath string) (string, error) {
	return s.resolve(relPath)
}

func (s *FSStore) EnsureDir(relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0o755)
}

// Save streams r into the asset at relPath, creating parent directories. The
// write goes through a temp file and rename so readers never observe a
// partial object.
func (s *FSStore) Save(relPath string, r io.Reader) (int64, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create asset dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "incoming-*")
	if err != nil {
		return 0, fmt.Errorf("create temp asset: %w", err)
	}
	tmpPath := tmp.Name()
	written, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("write asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("close temp asset: %w", err)
	}
	if err := os.Rename(tmpPath, full); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("store asset: %w", err)
	}
	return written, nil
}

func (s *FSStore) Open(relPath string) (io.ReadSeekCloser, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (s *FSStore) Exists(relPath string) bool {
	full, err := s.resolve(relPath)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(full)
	return statErr == nil
}

func (s *FSStore) Remove(relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FSStore) RemoveAll(relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	return os.RemoveAll(full)
}

var _ Store = (*FSStore)(nil)
