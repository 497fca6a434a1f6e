package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// LocalStorage writes artifacts into a directory
type LocalStorage struct {
	dir string
}

var _ StorageInterface = (*LocalStorage)(nil)

// NewLocalStorage creates the directory if needed.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &LocalStorage{dir: dir}, nil
}

func (s *LocalStorage) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact name %q escapes the output directory", name)
	}
	return filepath.Join(s.dir, clean), nil
}

// Store writes an artifact, replacing an existing file.
func (s *LocalStorage) Store(_ context.Context, name string, data []byte, _ string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	logrus.Infof("Saved %s", p)
	return nil
}

// Retrieve reads an artifact.
func (s *LocalStorage) Retrieve(_ context.Context, name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}

// List returns slash-separated artifact names under a prefix, sorted.
func (s *LocalStorage) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes an artifact.
func (s *LocalStorage) Delete(_ context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}
	return nil
}

// Location returns the file path.
func (s *LocalStorage) Location(name string) string {
	p, err := s.path(name)
	if err != nil {
		return name
	}
	return p
}
