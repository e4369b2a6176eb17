// Package local implements the filesystem storage backend. It suits
// single-node deployments; replicas would need a shared volume.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/overseer-lite/overseer-lite/internal/config"
	"github.com/overseer-lite/overseer-lite/internal/storage"
	"github.com/overseer-lite/overseer-lite/pkg/checksum"
)

func init() {
	storage.Register("local", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Local)
	})
}

// LocalStorage stores objects as files under a base directory
type LocalStorage struct {
	basePath string
}

// New creates a filesystem backend, creating the base directory if needed
func New(cfg *config.LocalStorageConfig) (*LocalStorage, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("local storage base_path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: filepath.Clean(cfg.BasePath)}, nil
}

// resolve maps an object path to a file inside basePath, rejecting traversal
func (s *LocalStorage) resolve(path string) (string, error) {
	full := filepath.Join(s.basePath, filepath.FromSlash(path))
	if full != s.basePath && !strings.HasPrefix(full, s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object path: %s", path)
	}
	return full, nil
}

// Put writes the object atomically through a temporary file and rename
func (s *LocalStorage) Put(ctx context.Context, path string, data []byte, _ storage.PutOptions) (*storage.ObjectInfo, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	return s.Stat(ctx, path)
}

// Get reads a file
func (s *LocalStorage) Get(ctx context.Context, path string) ([]byte, *storage.ObjectInfo, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	info, err := s.Stat(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	info.Checksum = checksum.Sum(data)
	return data, info, nil
}

// Delete removes a file and any directories it leaves empty
func (s *LocalStorage) Delete(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	dir := filepath.Dir(full)
	for dir != s.basePath {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// Stat returns size and modification time
func (s *LocalStorage) Stat(_ context.Context, path string) (*storage.ObjectInfo, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	return &storage.ObjectInfo{
		Path:         path,
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
	}, nil
}
