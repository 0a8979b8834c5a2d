package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FSStore stores blobs on the local filesystem under root/<aa>/<digest>.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(ref Ref) string {
	return filepath.Join(s.root, string(ref[:2]), string(ref))
}

// Put writes data under its content address. An existing object with the same
// ref is left untouched.
func (s *FSStore) Put(ctx context.Context, data []byte) (Ref, error) {
	ref := Sum(data)
	path := s.path(ref)
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	// Write via temp file + rename so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return ref, nil
}

// Get reads the object for ref, or ErrNotFound.
func (s *FSStore) Get(ctx context.Context, ref Ref) ([]byte, error) {
	if len(ref) < 3 {
		return nil, fmt.Errorf("get %q: %w", ref, ErrNotFound)
	}
	data, err := os.ReadFile(s.path(ref))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("get %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", ref, err)
	}
	return data, nil
}
