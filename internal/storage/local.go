package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	// metaSuffix marks the sidecar file holding an object's metadata.
	metaSuffix = ".meta.json"
	// tempPrefix marks in-flight writes.
	tempPrefix = ".tmp-"

	dirPermissions  = 0o750
	filePermissions = 0o640
)

// Local stores blobs as files below a base directory.
type Local struct {
	// base is the canonical absolute base directory.
	base string
}

// NewLocal creates the base directory if needed and returns a backend rooted at it.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty data directory", ErrInvalidKey)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}

	if err = os.MkdirAll(abs, dirPermissions); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize data directory: %w", err)
	}

	return &Local{base: canonical}, nil
}

// Base returns the canonical base directory.
func (l *Local) Base() string {
	return l.base
}

// resolve maps a key to a path and rejects anything escaping the base directory.
func (l *Local) resolve(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	name := filepath.Base(key)
	if strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, tempPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	resolved := filepath.Join(l.base, filepath.FromSlash(key))
	if resolved != l.base && !strings.HasPrefix(resolved, l.base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, key)
	}

	if resolved == l.base {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return resolved, nil
}

// Put writes data atomically and stores metadata in a sidecar file.
func (l *Local) Put(_ context.Context, key string, data []byte, metadata map[string]string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}

	if err = writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	metadata = normalizeMetadata(metadata)
	if metadata == nil {
		if err = os.Remove(path + metaSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale metadata for %s: %w", key, err)
		}

		return nil
	}

	encoded, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata for %s: %w", key, err)
	}

	if err = writeFileAtomic(path+metaSuffix, encoded); err != nil {
		return fmt.Errorf("put metadata for %s: %w", key, err)
	}

	return nil
}

// Get reads the file under key. Missing files and directories are absent.
func (l *Local) Get(_ context.Context, key string) (*Object, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // Path is confined to the base directory by resolve.
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || isDirectoryError(path) {
			return nil, nil //nolint:nilnil // Absence is not an error.
		}

		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	obj := &Object{
		Data: data,
		Size: int64(len(data)),
	}

	sidecar, err := os.ReadFile(path + metaSuffix) //nolint:gosec // Same confinement as above.

	switch {
	case err == nil:
		if err = json.Unmarshal(sidecar, &obj.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", key, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read metadata for %s: %w", key, err)
	}

	return obj, nil
}

// Delete removes the file and its metadata.
func (l *Local) Delete(_ context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}

	for _, p := range []string{path, path + metaSuffix} {
		if err = os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}

	return nil
}

// List walks the base directory and returns matching keys.
func (l *Local) List(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)

	err := filepath.WalkDir(l.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		name := d.Name()
		if strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, tempPrefix) {
			return nil
		}

		rel, err := filepath.Rel(l.base, path)
		if err != nil {
			return err
		}

		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}

	slices.Sort(keys)

	return keys, nil
}

// Exists reports whether a regular file is stored under key.
func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	path, err := l.resolve(key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)

	switch {
	case err == nil:
		return info.Mode().IsRegular(), nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
}

// Close is a no-op for the filesystem.
func (l *Local) Close() error {
	return nil
}

// writeFileAtomic writes to a temporary sibling, syncs it and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}

	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err = os.Chmod(tmpPath, filePermissions); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	committed = true

	return nil
}

func isDirectoryError(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}
