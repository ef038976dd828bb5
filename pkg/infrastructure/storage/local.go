package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	shared "github.com/desirelines/pipeline/pkg"
	"github.com/desirelines/pipeline/pkg/apperrors"
)

// LocalStore serves objects from a directory. The bucket name is ignored so
// a fixtures tree can stand in for any bucket. Generations are tracked per
// process.
type LocalStore struct {
	Root string

	mu          sync.Mutex
	generations map[string]int64
}

// NewLocalStore returns a store rooted at dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("local store root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local store root %s is not a directory", dir)
	}
	return &LocalStore{Root: dir, generations: make(map[string]int64)}, nil
}

// path anchors the object name at the root so ".." cannot escape it.
func (s *LocalStore) path(objectName string) (string, error) {
	if objectName == "" {
		return "", fmt.Errorf("empty object name")
	}
	return filepath.Join(s.Root, filepath.Clean("/"+objectName)), nil
}

func (s *LocalStore) Read(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	data, _, err := s.ReadVersioned(ctx, bucketName, objectName)
	return data, err
}

func (s *LocalStore) ReadVersioned(ctx context.Context, bucketName, objectName string) ([]byte, int64, error) {
	p, err := s.path(objectName)
	if err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, shared.ErrObjectNotFound
		}
		return nil, 0, err
	}
	return data, s.generationLocked(p), nil
}

func (s *LocalStore) Write(ctx context.Context, bucketName, objectName string, data []byte) error {
	p, err := s.path(objectName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.writeLocked(p, data)
	return err
}

func (s *LocalStore) WriteIfGeneration(ctx context.Context, bucketName, objectName string, data []byte, generation int64) (int64, error) {
	p, err := s.path(objectName)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := int64(0)
	if _, err := os.Stat(p); err == nil {
		current = s.generationLocked(p)
	}
	if current != generation {
		return 0, fmt.Errorf("%w: %s at generation %d, expected %d", apperrors.ErrConflict, objectName, current, generation)
	}
	return s.writeLocked(p, data)
}

func (s *LocalStore) generationLocked(p string) int64 {
	if s.generations == nil {
		s.generations = make(map[string]int64)
	}
	gen, ok := s.generations[p]
	if !ok {
		gen = 1
		s.generations[p] = gen
	}
	return gen
}

func (s *LocalStore) writeLocked(p string, data []byte) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, p); err != nil {
		return 0, err
	}

	gen := s.generationLocked(p) + 1
	s.generations[p] = gen
	return gen, nil
}
