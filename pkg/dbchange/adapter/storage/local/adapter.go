// Package local stores objects on the local file system under a base directory.
// Buckets map to sub-directories of the base directory.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/storage"
	storageconfig "github.com/tigerroll/undertow/pkg/dbchange/adapter/storage/config"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

// ProviderType is the storage type handled by this package.
const ProviderType = "local"

func init() {
	storage.RegisterFactory(ProviderType, func(_ context.Context, name string, cfg storageconfig.StorageConfig) (storage.Connection, error) {
		return NewAdapter(cfg, name)
	})
}

type adapter struct {
	cfg  storageconfig.StorageConfig
	name string
}

var _ storage.Connection = (*adapter)(nil)

// NewAdapter validates BaseDir, creating it when missing.
func NewAdapter(cfg storageconfig.StorageConfig, name string) (storage.Connection, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage '%s': base_dir must be specified", name)
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("local storage '%s': failed to create base_dir '%s': %w", name, cfg.BaseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local storage '%s': failed to stat base_dir '%s': %w", name, cfg.BaseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local storage '%s': base_dir '%s' is not a directory", name, cfg.BaseDir)
	}
	return &adapter{cfg: cfg, name: name}, nil
}

func (a *adapter) Close() error { return nil }
func (a *adapter) Type() string { return ProviderType }
func (a *adapter) Name() string { return a.name }

// Upload writes to a temporary file and renames it into place, so readers never see a partial object.
func (a *adapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, _ string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in '%s': %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write '%s': %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write '%s': %w", fullPath, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("failed to move upload into '%s': %w", fullPath, err)
	}
	logger.Debugf("Uploaded '%s' (local storage '%s').", fullPath, a.name)
	return nil
}

func (a *adapter) Download(_ context.Context, bucket, objectName string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", fullPath, err)
	}
	return f, nil
}

// ListObjects walks the bucket directory and reports object names relative to it, with '/' separators.
func (a *adapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	basePath, err := a.resolvePath(bucket, "")
	if err != nil {
		return err
	}
	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		return nil
	}
	err = filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(basePath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		return fn(rel)
	})
	if err != nil {
		return fmt.Errorf("failed to list '%s' with prefix '%s': %w", basePath, prefix, err)
	}
	return nil
}

func (a *adapter) DeleteObject(_ context.Context, bucket, objectName string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete '%s': %w", fullPath, err)
	}
	return nil
}

// resolvePath joins base_dir, bucket and objectName and rejects paths escaping base_dir.
func (a *adapter) resolvePath(bucket, objectName string) (string, error) {
	if bucket == "" {
		bucket = a.cfg.BucketName
	}
	fullPath := filepath.Join(a.cfg.BaseDir, bucket, filepath.FromSlash(objectName))

	absBase, err := filepath.Abs(a.cfg.BaseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base_dir '%s': %w", a.cfg.BaseDir, err)
	}
	absFull, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve '%s': %w", fullPath, err)
	}
	if absFull != absBase && !strings.HasPrefix(absFull, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path '%s' is outside of base_dir '%s'", fullPath, a.cfg.BaseDir)
	}
	return fullPath, nil
}
